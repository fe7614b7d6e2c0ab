package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"FlowPay-Chain/pkg/amount"
	"FlowPay-Chain/sdk/go/flowpay"
)

// 查询一次兑换报价：go run ./sdk/go/examples <from> <to> <amount>
func main() {
	if len(os.Args) != 4 {
		fmt.Fprintln(os.Stderr, "usage: examples <from> <to> <amount>")
		os.Exit(2)
	}
	baseURL := os.Getenv("FLOWPAY_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	amt, err := amount.Parse(os.Args[3])
	if err != nil {
		panic(err)
	}

	client, err := flowpay.NewClient(baseURL, nil)
	if err != nil {
		panic(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q, err := client.Quote(ctx, common.HexToAddress(os.Args[1]), common.HexToAddress(os.Args[2]), amt)
	if err != nil {
		panic(err)
	}
	fmt.Printf("%s -> %s: %s in, %s expected via %d hops\n", q.From.Hex(), q.To.Hex(), q.AmountIn, q.Expected, len(q.Path)-1)
}
