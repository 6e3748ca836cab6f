package main

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"usvchain/cmd/internal/passphrase"
	"usvchain/crypto"
)

const keyPassEnv = "USV_KEY_PASS"

var (
	keystoreParams = crypto.StandardScrypt
	keyPassSource  = passphrase.NewSource(keyPassEnv, "signing keystore")
)

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
	out := fs.String("out", "", "Path of the keystore file to create")
	force := fs.Bool("force", false, "Overwrite an existing keystore")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*out) == "" {
		return errors.New("--out is required")
	}
	if crypto.KeystoreExists(*out) && !*force {
		return fmt.Errorf("keystore %s already exists; pass --force to overwrite", *out)
	}
	pass, err := keyPassSource.Get()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystoreWithParams(*out, key, pass, keystoreParams); err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "Wrote %s\nAddress: %s\n", *out, key.PubKey().Address().String())
	return err
}

func runAddress(args []string) error {
	fs := flag.NewFlagSet("address", flag.ContinueOnError)
	keyPath := fs.String("key", "", "Path to the keystore")
	if err := fs.Parse(args); err != nil {
		return err
	}
	key, err := loadKey(*keyPath)
	if err != nil {
		return err
	}
	addr := key.PubKey().Address()
	_, err = fmt.Fprintf(stdout, "Address: %s\nAccount: %s\n", addr.String(), crypto.FormatAccount(addr.Array()))
	return err
}

func loadKey(path string) (*crypto.PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("--key is required")
	}
	if !crypto.KeystoreExists(path) {
		return nil, fmt.Errorf("keystore %s not found. run usv-cli keygen first", path)
	}
	pass, err := keyPassSource.Get()
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, fmt.Errorf("unable to decrypt keystore %s: %w", path, err)
	}
	return key, nil
}
