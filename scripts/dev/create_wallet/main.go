package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"strings"

	"github.com/gnostr-org/signerd/config"
	"github.com/gnostr-org/signerd/internal/types"
)

var walletName string
var thresholdM uint
var cosigners string

func main() {
	flag.StringVar(&walletName, "wallet", "", "wallet name")
	flag.UintVar(&thresholdM, "threshold", 2, "signatures required")
	flag.StringVar(&cosigners, "cosigners", "", "comma separated cosigner pubkeys")
	flag.Parse()

	if walletName == "" {
		panic("wallet name is required")
	}

	serverConfig, err := config.ReadConfig("config")
	if err != nil {
		panic(err)
	}

	var members []types.Cosigner
	for _, pubkey := range strings.Split(cosigners, ",") {
		pubkey = strings.TrimSpace(pubkey)
		if pubkey == "" {
			continue
		}
		members = append(members, types.Cosigner{
			PublicKey: types.PublicKey(pubkey),
			Kind:      types.CosignerLocal,
		})
	}

	createWalletRequest := &types.CreateWalletRequest{
		Name:       walletName,
		ThresholdM: uint32(thresholdM),
		TotalN:     uint32(len(members)),
		Cosigners:  members,
	}

	serverHost := fmt.Sprintf("http://%s:%d", serverConfig.Server.Host, serverConfig.Server.Port)
	fmt.Printf("Creating wallet on %s/wallet/create", serverHost)

	reqBytes, err := json.Marshal(createWalletRequest)
	if err != nil {
		panic(err)
	}
	resp, err := http.Post(fmt.Sprintf("%s/wallet/create", serverHost), "application/json", bytes.NewBuffer(reqBytes))
	if err != nil {
		panic(err)
	}
	fmt.Printf(" - %d\n", resp.StatusCode)

	var created types.Wallet
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		panic(err)
	}
	fmt.Printf("Wallet created: %s\n", created.ID)
}
