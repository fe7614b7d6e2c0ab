package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"gopkg.in/yaml.v3"

	xerrors "FlowPay-Chain/internal/errors"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/pkg/amount"
)

const pairABIJSON = `[{"constant":true,"inputs":[],"name":"getReserves","outputs":[{"internalType":"uint112","name":"_reserve0","type":"uint112"},{"internalType":"uint112","name":"_reserve1","type":"uint112"},{"internalType":"uint32","name":"_blockTimestampLast","type":"uint32"}],"payable":false,"stateMutability":"view","type":"function"}]`

var pairABI = mustParseABI(pairABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
	Pools  []PairDefinition           `yaml:"pools"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type        string `yaml:"type"`
	RPCURL      string `yaml:"rpc_url"`
	Description string `yaml:"description"`
}

// PairDefinition binds a Uniswap-V2 style pair contract to the two ledger
// assets it prices. Token0 and Token1 follow the pair's own ordering.
type PairDefinition struct {
	Chain  string `yaml:"chain"`
	Pair   string `yaml:"pair"`
	Token0 string `yaml:"token0"`
	Token1 string `yaml:"token1"`
}

// LoadChainDefinitions parses the YAML file containing chain and pair
// metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// ContractCaller mirrors the read-only call method of ethclient.Client.
type ContractCaller interface {
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type evmPair struct {
	chain  string
	pair   common.Address
	token0 common.Address
	token1 common.Address
}

// EVMOracle reads reserves from pair contracts on EVM chains. It is
// quote-only: swaps priced with it cannot be settled on the ledger.
type EVMOracle struct {
	callers map[string]ContractCaller
	pairs   map[common.Address]evmPair
	closers []func()
}

// NewEVMOracle builds an oracle over already connected callers keyed by
// chain name.
func NewEVMOracle(defs ChainDefinitions, callers map[string]ContractCaller) (*EVMOracle, error) {
	o := &EVMOracle{callers: callers, pairs: make(map[common.Address]evmPair)}
	for i, def := range defs.Pools {
		if _, ok := callers[def.Chain]; !ok {
			return nil, fmt.Errorf("交易对 #%d 引用了未配置的链 %s", i, def.Chain)
		}
		for _, field := range []string{def.Pair, def.Token0, def.Token1} {
			if !common.IsHexAddress(field) {
				return nil, fmt.Errorf("交易对 #%d 包含无效地址 %q", i, field)
			}
		}
		p := evmPair{
			chain:  def.Chain,
			pair:   common.HexToAddress(def.Pair),
			token0: common.HexToAddress(def.Token0),
			token1: common.HexToAddress(def.Token1),
		}
		if p.token0 == p.token1 {
			return nil, fmt.Errorf("交易对 #%d 的两个资产相同", i)
		}
		o.pairs[PoolAddress(p.token0, p.token1)] = p
	}
	return o, nil
}

// DialEVMOracle loads path and connects to every EVM chain it defines.
func DialEVMOracle(ctx context.Context, path string) (*EVMOracle, error) {
	defs, err := LoadChainDefinitions(path)
	if err != nil {
		return nil, err
	}
	callers := make(map[string]ContractCaller, len(defs.Chains))
	var closers []func()
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType != "" && chainType != "evm" {
			return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		if strings.TrimSpace(chain.RPCURL) == "" {
			return nil, fmt.Errorf("链 %s 未配置 RPC 地址", name)
		}
		client, err := ethclient.DialContext(ctx, chain.RPCURL)
		if err != nil {
			for _, c := range closers {
				c()
			}
			return nil, fmt.Errorf("连接链 %s 失败: %w", name, err)
		}
		callers[name] = client
		closers = append(closers, client.Close)
	}
	o, err := NewEVMOracle(defs, callers)
	if err != nil {
		for _, c := range closers {
			c()
		}
		return nil, err
	}
	o.closers = closers
	return o, nil
}

// Reserves implements Pools by calling getReserves on the pair contract.
func (o *EVMOracle) Reserves(env *ledger.Env, pool common.Address) (Reserves, error) {
	p, ok := o.pairs[pool]
	if !ok {
		return Reserves{}, xerrors.Newf(xerrors.CodeNotFound, "pool %s not configured", pool.Hex())
	}
	ctx := context.Background()
	if env != nil {
		ctx = env.Context()
	}
	reserve0, reserve1, err := o.fetch(ctx, p)
	if err != nil {
		return Reserves{}, err
	}
	lo, hi := SortPair(p.token0, p.token1)
	r := Reserves{Pool: pool, AssetA: lo, AssetB: hi, ReserveA: reserve0, ReserveB: reserve1}
	if lo != p.token0 {
		r.ReserveA, r.ReserveB = reserve1, reserve0
	}
	return r, nil
}

func (o *EVMOracle) fetch(ctx context.Context, p evmPair) (amount.Amount, amount.Amount, error) {
	data, err := pairABI.Pack("getReserves")
	if err != nil {
		return amount.Zero, amount.Zero, fmt.Errorf("编码 getReserves 失败: %w", err)
	}
	to := p.pair
	out, err := o.callers[p.chain].CallContract(ctx, gethcore.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return amount.Zero, amount.Zero, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("call getReserves on %s", p.pair.Hex()))
	}
	values, err := pairABI.Unpack("getReserves", out)
	if err != nil {
		return amount.Zero, amount.Zero, fmt.Errorf("解析 getReserves 返回值失败: %w", err)
	}
	if len(values) < 2 {
		return amount.Zero, amount.Zero, errors.New("getReserves 返回值不完整")
	}
	raw0, ok0 := values[0].(*big.Int)
	raw1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return amount.Zero, amount.Zero, errors.New("getReserves 返回值类型错误")
	}
	reserve0, err := amount.FromBig(raw0)
	if err != nil {
		return amount.Zero, amount.Zero, err
	}
	reserve1, err := amount.FromBig(raw1)
	if err != nil {
		return amount.Zero, amount.Zero, err
	}
	return reserve0, reserve1, nil
}

// Settle implements Pools. External pairs cannot be settled by the ledger.
func (o *EVMOracle) Settle(*ledger.Env, common.Address, common.Address, common.Address, amount.Amount) error {
	return xerrors.New(xerrors.CodeInvalidState, "EVM pair reserves are quote-only")
}

// Close releases the RPC connections opened by DialEVMOracle.
func (o *EVMOracle) Close() {
	for _, c := range o.closers {
		c()
	}
	o.closers = nil
}
