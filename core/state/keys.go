package state

import (
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	accountRecordPrefix = []byte("account/")
	nonceRecordPrefix   = []byte("nonce/")
	stateVersionKey     = ethcrypto.Keccak256([]byte("state/version"))
)

func accountStorageKey(addr [20]byte) []byte {
	buf := make([]byte, len(accountRecordPrefix)+len(addr))
	copy(buf, accountRecordPrefix)
	copy(buf[len(accountRecordPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}

func nonceStorageKey(addr [20]byte) []byte {
	buf := make([]byte, len(nonceRecordPrefix)+len(addr))
	copy(buf, nonceRecordPrefix)
	copy(buf[len(nonceRecordPrefix):], addr[:])
	return ethcrypto.Keccak256(buf)
}
