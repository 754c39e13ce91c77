// Command-line client for a running klingnet-indexerd.
//
// Usage:
//
//	klingnet-indexer-cli [--rpc-url URL] balance <address> [min_conf]
//	klingnet-indexer-cli [--rpc-url URL] utxos <address> [min_conf]
//	klingnet-indexer-cli [--rpc-url URL] fees
//	klingnet-indexer-cli [--rpc-url URL] headers <from> <to>
//	klingnet-indexer-cli [--rpc-url URL] stats
//	klingnet-indexer-cli [--rpc-url URL] sendtx <hex>
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/Klingon-tech/klingnet-indexer/internal/rpc"
	"github.com/Klingon-tech/klingnet-indexer/internal/rpcclient"
)

func main() {
	rpcURL := flag.String("rpc-url", "http://127.0.0.1:18443", "Indexer RPC endpoint")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := rpcclient.New(*rpcURL)

	var err error
	switch args[0] {
	case "balance":
		err = cmdBalance(client, args[1:])
	case "utxos":
		err = cmdUtxos(client, args[1:])
	case "fees":
		err = cmdFees(client)
	case "headers":
		err = cmdHeaders(client, args[1:])
	case "stats":
		err = cmdStats(client)
	case "sendtx":
		err = cmdSendTx(client, args[1:])
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: klingnet-indexer-cli [--rpc-url URL] <balance|utxos|fees|headers|stats|sendtx> [args]")
}

func minConfArg(args []string, idx int) (uint32, error) {
	if len(args) <= idx {
		return 0, nil
	}
	n, err := strconv.ParseUint(args[idx], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("min_confirmations: %w", err)
	}
	return uint32(n), nil
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func cmdBalance(c *rpcclient.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("balance requires an address")
	}
	minConf, err := minConfArg(args, 1)
	if err != nil {
		return err
	}
	result, err := c.GetBalance(args[0], minConf)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdUtxos(c *rpcclient.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("utxos requires an address")
	}
	minConf, err := minConfArg(args, 1)
	if err != nil {
		return err
	}

	// Page through everything, printing each page as it arrives.
	params := rpc.UtxosParam{Address: args[0], MinConfirmations: minConf, Limit: 1000}
	for {
		result, err := c.GetUtxos(params)
		if err != nil {
			return err
		}
		if err := printJSON(result); err != nil {
			return err
		}
		if result.NextPage == "" {
			return nil
		}
		params.Page = result.NextPage
	}
}

func cmdFees(c *rpcclient.Client) error {
	percentiles, err := c.GetCurrentFeePercentiles()
	if err != nil {
		return err
	}
	return printJSON(percentiles)
}

func cmdHeaders(c *rpcclient.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("headers requires <from> <to>")
	}
	from, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("from: %w", err)
	}
	to, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil {
		return fmt.Errorf("to: %w", err)
	}
	headers, err := c.GetBlockHeaders(uint32(from), uint32(to))
	if err != nil {
		return err
	}
	return printJSON(headers)
}

func cmdStats(c *rpcclient.Client) error {
	stats, err := c.GetStats()
	if err != nil {
		return err
	}
	return printJSON(stats)
}

func cmdSendTx(c *rpcclient.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("sendtx requires a hex-encoded transaction")
	}
	if err := c.SendTransaction(args[0]); err != nil {
		return err
	}
	fmt.Println("queued")
	return nil
}
