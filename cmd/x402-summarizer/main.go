// Command x402-summarizer serves a text summarizer behind a pay-per-request
// gateway: every call must carry proof of an on-chain payment that has not
// been used before.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
