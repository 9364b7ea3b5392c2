package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/tjfontaine/tradeflow/internal/pkg/auth"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/keygen/main.go <user-id> [api-key]")
		fmt.Println("Hashes an API key (or generates one) for the users section of config.yaml")
		os.Exit(1)
	}

	userID := os.Args[1]
	apiKey := ""
	if len(os.Args) > 2 {
		apiKey = os.Args[2]
	} else {
		buf := make([]byte, 24)
		if _, err := rand.Read(buf); err != nil {
			fmt.Fprintf(os.Stderr, "generate key: %v\n", err)
			os.Exit(1)
		}
		apiKey = "tf_" + hex.EncodeToString(buf)
	}
	keyHash := auth.HashAPIKey(apiKey)

	fmt.Printf("API Key: %s\n", apiKey)
	fmt.Printf("SHA-256 Hash: %s\n", keyHash)
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("users:\n")
	fmt.Printf("  - id: %q\n", userID)
	fmt.Printf("    api_keys:\n")
	fmt.Printf("      - key_hash: %q\n", keyHash)
	fmt.Printf("        description: \"Generated key\"\n")
}
