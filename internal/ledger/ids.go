package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gowebpki/jcs"
)

const contractDomain = "flowpay_contract"

// DeriveID hashes the RFC 8785 canonical JSON form of fields with keccak256.
// Equal field sets always produce equal ids regardless of map ordering.
func DeriveID(domain string, fields any) (common.Hash, error) {
	raw, err := json.Marshal(struct {
		Domain string `json:"domain"`
		Fields any    `json:"fields"`
	}{Domain: domain, Fields: fields})
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode id fields: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return common.Hash{}, fmt.Errorf("canonicalize id fields: %w", err)
	}
	return crypto.Keccak256Hash(canonical), nil
}

// DeriveAddress returns a deterministic account address for domain and seed.
func DeriveAddress(domain string, seed []byte) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte(domain), seed))
}

// ContractAddress returns the account owned by the named component.
func ContractAddress(name string) common.Address {
	return DeriveAddress(contractDomain, []byte(name))
}
