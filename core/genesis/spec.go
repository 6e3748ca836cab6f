package genesis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"usvchain/crypto"
	"usvchain/native/rewards"
)

// GenesisSpec fixes the chain identity and reward program constants of a
// deployment. Amounts are base-unit decimal strings.
type GenesisSpec struct {
	GenesisTime string       `json:"genesisTime"`
	ChainID     *uint64      `json:"chainId,omitempty"`
	Authority   string       `json:"authority,omitempty"`
	Rewards     *RewardsSpec `json:"rewards,omitempty"`

	genesisTimestamp time.Time
	authority        [20]byte
	hasAuthority     bool
}

// RewardsSpec overrides the default reward program parameters.
type RewardsSpec struct {
	TotalSupply            string `json:"totalSupply,omitempty"`
	RewardPerClaim         string `json:"rewardPerClaim,omitempty"`
	MinimumPartnerTransfer string `json:"minimumPartnerTransfer,omitempty"`
	MaxCodesPerBatch       uint32 `json:"maxCodesPerBatch,omitempty"`
	RequireIssuedCodes     bool   `json:"requireIssuedCodes,omitempty"`
}

// DefaultChainID is used when a spec omits chainId.
const DefaultChainID uint64 = 7811

// LoadGenesisSpec reads and validates a genesis file.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesisSpec(raw)
}

// ParseGenesisSpec decodes and validates a genesis document. Unknown fields
// are rejected.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	spec := new(GenesisSpec)
	if err := dec.Decode(spec); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func (s *GenesisSpec) validate() error {
	ts, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = ts
	if s.ChainID != nil && *s.ChainID == 0 {
		return fmt.Errorf("genesis: chainId must be positive")
	}
	if trimmed := strings.TrimSpace(s.Authority); trimmed != "" {
		addr, err := crypto.ParseAddress(trimmed)
		if err != nil {
			return fmt.Errorf("genesis: authority: %w", err)
		}
		s.authority = addr
		s.hasAuthority = true
	}
	if _, err := s.RewardsParams(); err != nil {
		return err
	}
	return nil
}

// GenesisTimestamp returns the parsed genesis time.
func (s *GenesisSpec) GenesisTimestamp() time.Time {
	return s.genesisTimestamp
}

// ChainIDValue returns the configured chain id or DefaultChainID.
func (s *GenesisSpec) ChainIDValue() uint64 {
	if s == nil || s.ChainID == nil {
		return DefaultChainID
	}
	return *s.ChainID
}

// AuthorityAddress returns the authority that bootstraps the program at
// genesis, if one is configured.
func (s *GenesisSpec) AuthorityAddress() ([20]byte, bool) {
	if s == nil {
		return [20]byte{}, false
	}
	return s.authority, s.hasAuthority
}

// RewardsParams merges the genesis overrides, including the pinned
// authority, onto rewards.DefaultParams.
func (s *GenesisSpec) RewardsParams() (rewards.Params, error) {
	params := rewards.DefaultParams()
	if s == nil {
		return params, nil
	}
	if s.hasAuthority {
		params.Authority = s.authority
	}
	if s.Rewards == nil {
		return params, nil
	}
	r := s.Rewards
	var err error
	if params.TotalSupply, err = parseAmount("totalSupply", r.TotalSupply, params.TotalSupply); err != nil {
		return params, err
	}
	if params.RewardPerClaim, err = parseAmount("rewardPerClaim", r.RewardPerClaim, params.RewardPerClaim); err != nil {
		return params, err
	}
	if params.MinimumPartnerTransfer, err = parseAmount("minimumPartnerTransfer", r.MinimumPartnerTransfer, params.MinimumPartnerTransfer); err != nil {
		return params, err
	}
	if r.MaxCodesPerBatch > 0 {
		params.MaxCodesPerBatch = r.MaxCodesPerBatch
	}
	params.RequireIssuedCodes = r.RequireIssuedCodes
	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("genesis: %w", err)
	}
	return params, nil
}

func parseAmount(field, raw string, fallback *uint256.Int) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fallback, nil
	}
	v, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("genesis: %s: %w", field, err)
	}
	return v, nil
}

func parseGenesisTime(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("genesis: genesisTime required")
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("genesis: invalid genesisTime %q: %w", raw, err)
	}
	return ts.UTC(), nil
}
