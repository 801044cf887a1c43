package main

import (
	"flag"
	"fmt"

	"github.com/gnostr-org/signerd/config"
	"github.com/gnostr-org/signerd/internal/keys"
)

var watchOnly bool

func main() {
	flag.BoolVar(&watchOnly, "watch-only", false, "register the identity without a private key")
	flag.Parse()

	cfg, err := config.ReadConfig("config")
	if err != nil {
		panic(err)
	}

	store, err := keys.NewFileSecretStore(cfg.Signer.SecretStorePath, cfg.Signer.Passphrase)
	if err != nil {
		panic(err)
	}
	backend := keys.NewSecp256k1Backend(store)

	key, err := backend.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}
	pubkey, err := backend.DerivePublicKey(key)
	if err != nil {
		key.Free()
		panic(err)
	}

	if watchOnly {
		key.Free()
		key = nil
	}
	if err := store.StoreKey(pubkey, key); err != nil {
		panic(err)
	}

	fmt.Printf("Identity created: %s\n", pubkey)
	if watchOnly {
		fmt.Println("Registered as watch-only, no private key stored")
	}
}
