package source

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// HTTPSource talks the block-source protocol over HTTP+JSON: one POST per
// Fetch, blocks and headers base64-encoded. The server side of this
// exchange is the out-of-scope transport; this client is the concrete
// realization the daemon binary uses.
type HTTPSource struct {
	endpoint string
	client   *http.Client
}

// NewHTTP creates an HTTPSource against endpoint.
func NewHTTP(endpoint string) *HTTPSource {
	return &HTTPSource{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// wireRequest is the JSON envelope for both request kinds.
type wireRequest struct {
	Network              string   `json:"network,omitempty"`
	ProcessedBlockHashes []string `json:"processed_block_hashes,omitempty"`
	FollowUpPage         *uint8   `json:"follow_up_page,omitempty"`
}

// wireResponse is the JSON envelope for all three response kinds; Kind
// selects which fields are meaningful.
type wireResponse struct {
	Kind         string   `json:"kind"` // "complete", "partial", "follow_up"
	Blocks       []string `json:"blocks,omitempty"`
	Next         []string `json:"next,omitempty"`
	PartialBlock string   `json:"partial_block,omitempty"`
	NumPages     uint8    `json:"num_pages,omitempty"`
	Page         string   `json:"page,omitempty"`
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context, req Request) (Response, error) {
	var wr wireRequest
	switch r := req.(type) {
	case InitialRequest:
		wr.Network = r.Network.String()
		for _, h := range r.ProcessedBlockHashes {
			wr.ProcessedBlockHashes = append(wr.ProcessedBlockHashes, h.String())
		}
	case FollowUpRequest:
		page := r.Page
		wr.FollowUpPage = &page
	default:
		return nil, fmt.Errorf("source: unknown request type %T", req)
	}

	body, err := json.Marshal(wr)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("source: fetch: %w", err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source: fetch: unexpected status %d", httpResp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 64<<20))
	if err != nil {
		return nil, err
	}
	var wresp wireResponse
	if err := json.Unmarshal(data, &wresp); err != nil {
		return nil, fmt.Errorf("source: decode response: %w", err)
	}

	switch wresp.Kind {
	case "complete":
		var resp Complete
		if resp.Blocks, err = decodeAll(wresp.Blocks); err != nil {
			return nil, err
		}
		if resp.Next, err = decodeAll(wresp.Next); err != nil {
			return nil, err
		}
		return resp, nil
	case "partial":
		partial, err := base64.StdEncoding.DecodeString(wresp.PartialBlock)
		if err != nil {
			return nil, err
		}
		next, err := decodeAll(wresp.Next)
		if err != nil {
			return nil, err
		}
		return Partial{PartialBlock: partial, Next: next, NumPages: wresp.NumPages}, nil
	case "follow_up":
		page, err := base64.StdEncoding.DecodeString(wresp.Page)
		if err != nil {
			return nil, err
		}
		return FollowUp(page), nil
	default:
		return nil, fmt.Errorf("source: unknown response kind %q", wresp.Kind)
	}
}

func decodeAll(encoded []string) ([][]byte, error) {
	if len(encoded) == 0 {
		return nil, nil
	}
	out := make([][]byte, 0, len(encoded))
	for _, e := range encoded {
		raw, err := base64.StdEncoding.DecodeString(e)
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

// ParseProcessedHashes converts the string hashes of a wire request back
// into chainhash form, for servers implementing the other side.
func ParseProcessedHashes(hashes []string) ([]chainhash.Hash, error) {
	out := make([]chainhash.Hash, 0, len(hashes))
	for _, s := range hashes {
		h, err := chainhash.NewHashFromStr(s)
		if err != nil {
			return nil, err
		}
		out = append(out, *h)
	}
	return out, nil
}
