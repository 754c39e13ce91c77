package rpc

import (
	"encoding/hex"
	"errors"

	"github.com/Klingon-tech/klingnet-indexer/config"
	"github.com/Klingon-tech/klingnet-indexer/internal/indexer"
	"github.com/Klingon-tech/klingnet-indexer/internal/query"
)

// mapIndexerError converts the query/gate error taxonomy into JSON-RPC
// error objects, preserving the typed payloads as data.
func mapIndexerError(err error) *Error {
	var tooLarge query.MinConfirmationsTooLargeError
	var unknownTip query.UnknownTipBlockHashError
	var malformedPage query.MalformedPageError
	switch {
	case errors.Is(err, indexer.ErrAPIDisabled):
		return &Error{Code: CodeAccessDenied, Message: "api access is disabled"}
	case errors.Is(err, indexer.ErrNotFullySynced):
		return &Error{Code: CodeNotSynced, Message: "indexer is not fully synced"}
	case errors.Is(err, query.ErrMalformedAddress):
		return &Error{Code: CodeInvalidParams, Message: "malformed address"}
	case errors.As(err, &tooLarge):
		return &Error{
			Code:    CodeInvalidParams,
			Message: "min_confirmations too large",
			Data:    map[string]uint32{"given": tooLarge.Given, "max": tooLarge.Max},
		}
	case errors.As(err, &unknownTip):
		return &Error{
			Code:    CodeNotFound,
			Message: "unknown tip block hash",
			Data:    unknownTip.Tip.String(),
		}
	case errors.As(err, &malformedPage):
		return &Error{Code: CodeInvalidParams, Message: "malformed page"}
	case errors.Is(err, indexer.ErrMalformedTransaction):
		return &Error{Code: CodeInvalidParams, Message: "malformed transaction"}
	case errors.Is(err, indexer.ErrQueueFull):
		return &Error{Code: CodeQueueFull, Message: "transaction queue is full"}
	default:
		return &Error{Code: CodeInternalError, Message: err.Error()}
	}
}

func (s *Server) handleGetBalance(req *Request) (interface{}, *Error) {
	var params BalanceParam
	if rpcErr := parseParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.Address == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "address is required"}
	}

	balance, err := s.ix.GetBalance(params.Address, params.MinConfirmations)
	if err != nil {
		return nil, mapIndexerError(err)
	}
	return &BalanceResult{Address: params.Address, Balance: balance}, nil
}

func (s *Server) handleGetUtxos(req *Request) (interface{}, *Error) {
	var params UtxosParam
	if rpcErr := parseParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.Address == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "address is required"}
	}

	var page []byte
	if params.Page != "" {
		decoded, err := hex.DecodeString(params.Page)
		if err != nil {
			return nil, &Error{Code: CodeInvalidParams, Message: "page must be hex"}
		}
		page = decoded
	}

	resp, err := s.ix.GetUtxos(query.GetUtxosRequest{
		Address:          params.Address,
		MinConfirmations: params.MinConfirmations,
		Page:             page,
		Limit:            params.Limit,
	})
	if err != nil {
		return nil, mapIndexerError(err)
	}

	result := &UtxosResult{
		TipBlockHash: resp.TipBlockHash.String(),
		TipHeight:    resp.TipHeight,
	}
	for _, u := range resp.Utxos {
		result.Utxos = append(result.Utxos, UtxoResult{
			TxID:   u.OutPoint.TxID.String(),
			Vout:   u.OutPoint.Vout,
			Value:  u.Value,
			Height: u.Height,
		})
	}
	if resp.NextPage != nil {
		result.NextPage = hex.EncodeToString(resp.NextPage)
	}
	return result, nil
}

func (s *Server) handleGetCurrentFeePercentiles(req *Request) (interface{}, *Error) {
	percentiles, err := s.ix.GetCurrentFeePercentiles()
	if err != nil {
		return nil, mapIndexerError(err)
	}
	return percentiles, nil
}

func (s *Server) handleGetBlockHeaders(req *Request) (interface{}, *Error) {
	var params HeadersParam
	if rpcErr := parseParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.ToHeight < params.FromHeight {
		return nil, &Error{Code: CodeInvalidParams, Message: "to_height must be >= from_height"}
	}

	headers, err := s.ix.GetBlockHeaders(params.FromHeight, params.ToHeight)
	if err != nil {
		return nil, mapIndexerError(err)
	}
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		out = append(out, hex.EncodeToString(h))
	}
	return out, nil
}

func (s *Server) handleSendTransaction(req *Request) (interface{}, *Error) {
	var params SendTransactionParam
	if rpcErr := parseParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	raw, err := hex.DecodeString(params.RawTx)
	if err != nil || len(raw) == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "raw_tx must be non-empty hex"}
	}
	if err := s.ix.SendTransaction(raw); err != nil {
		return nil, mapIndexerError(err)
	}
	return "queued", nil
}

func (s *Server) handleSetConfig(req *Request) (interface{}, *Error) {
	var params SetConfigParam
	if rpcErr := parseParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.StabilityThreshold != nil && *params.StabilityThreshold == 0 {
		return nil, &Error{Code: CodeInvalidParams, Message: "stability_threshold must be at least 1"}
	}

	s.ix.SetConfig(config.AdminUpdate{
		StabilityThreshold:         params.StabilityThreshold,
		Syncing:                    params.Syncing,
		APIAccess:                  params.APIAccess,
		DisableAPIIfNotFullySynced: params.DisableAPIIfNotFullySynced,
		WatchdogEndpoint:           params.Watchdog,
	})
	s.logger.Info().Msg("configuration updated via admin_setConfig")
	return "ok", nil
}

func (s *Server) handleGetStats(req *Request) (interface{}, *Error) {
	stats := s.ix.Store().Stats()
	ingest := s.ix.IngestStats()
	result := &StatsResult{
		NextHeight:      stats.NextHeight,
		AnchorHeight:    s.ix.Tree().AnchorHeight(),
		NumUtxos:        stats.NumUtxos,
		BlocksFinalized: ingest.BlocksFinalized,
		BlocksAccepted:  ingest.BlocksAccepted,
		BlocksRejected:  ingest.BlocksRejected,
		FullySynced:     s.ix.FullySynced(),
	}
	return result, nil
}
