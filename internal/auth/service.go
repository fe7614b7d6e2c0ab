package auth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"FlowPay-Chain/pkg/logger"
)

const defaultMaxSkew = 5 * time.Minute

// Service 校验请求签名并识别调用方地址。
type Service struct {
	mode    Mode
	maxSkew time.Duration
	replay  ReplayStore
	now     func() time.Time
	audit   *slog.Logger
}

// NewService 构造身份认证服务实例。replay 为 nil 时不做重放检测。
func NewService(cfg Config, replay ReplayStore) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeSignature
	}
	switch mode {
	case ModeDisabled, ModeSignature:
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}
	skew := cfg.MaxSkew
	if skew <= 0 {
		skew = defaultMaxSkew
	}
	return &Service{
		mode:    mode,
		maxSkew: skew,
		replay:  replay,
		now:     time.Now,
		audit:   logger.Audit(),
	}, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// SigningPayload 返回需要签名的原文：方法、路径、时间戳与请求体按行拼接。
func SigningPayload(method, path string, timestamp int64, body []byte) []byte {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('\n')
	b.Write(body)
	return []byte(b.String())
}

// Sign 使用私钥对请求生成 EIP-191 签名，返回 0x 前缀的十六进制串。
func Sign(key *ecdsa.PrivateKey, method, path string, timestamp int64, body []byte) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash(SigningPayload(method, path, timestamp, body)), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// Recover 返回签名对应的地址。v 可取 27/28 或 0/1；高位 s 的可延展签名会被拒绝。
func Recover(payload []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	v := sig[crypto.RecoveryIDOffset]
	if v >= 27 {
		v -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	sv := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(v, r, sv, true) {
		return common.Address{}, ErrInvalidSignature
	}
	sig[crypto.RecoveryIDOffset] = v
	pub, err := crypto.SigToPub(accounts.TextHash(payload), sig)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Verify 校验一次请求并返回调用方。
func (s *Service) Verify(ctx context.Context, method, path string, header func(string) string, body []byte) (*Subject, error) {
	signer := strings.TrimSpace(header(HeaderSigner))
	if s.Mode() == ModeDisabled {
		if !common.IsHexAddress(signer) {
			return nil, nil
		}
		return &Subject{Address: common.HexToAddress(signer)}, nil
	}

	signature := strings.TrimSpace(header(HeaderSignature))
	rawTS := strings.TrimSpace(header(HeaderTimestamp))
	if signer == "" || signature == "" || rawTS == "" {
		return nil, ErrMissingSignature
	}
	if !common.IsHexAddress(signer) {
		return nil, ErrInvalidSignature
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	skew := s.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > s.maxSkew {
		return nil, ErrExpired
	}
	payload := SigningPayload(method, path, ts, body)
	recovered, err := Recover(payload, signature)
	if err != nil {
		return nil, err
	}
	if recovered != common.HexToAddress(signer) {
		return nil, ErrSignerMismatch
	}
	if s.replay != nil {
		fresh, err := s.replay.Remember(ctx, replayKey(recovered, payload), 2*s.maxSkew)
		if err != nil {
			return nil, err
		}
		if !fresh {
			return nil, ErrReplayed
		}
	}
	return &Subject{Address: recovered, Verified: true}, nil
}

// replayKey 以签名者和签名原文摘要去重，签名本身的编码变体不影响结果。
func replayKey(signer common.Address, payload []byte) string {
	return strings.ToLower(signer.Hex()) + ":" + crypto.Keccak256Hash(payload).Hex()
}
