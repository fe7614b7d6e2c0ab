package auth

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Request headers carrying an EIP-191 signature.
const (
	HeaderSigner    = "X-Signer"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
)

// Common errors returned by the authentication subsystem.
var (
	ErrMissingSignature = errors.New("missing request signature")
	ErrInvalidSignature = errors.New("invalid request signature")
	ErrSignerMismatch   = errors.New("signature does not match signer")
	ErrExpired          = errors.New("request timestamp outside the accepted window")
	ErrReplayed         = errors.New("request signature already used")
)

// Mode 指定认证方式。
type Mode string

const (
	// ModeDisabled 信任 X-Signer 头，仅用于本地开发。
	ModeDisabled Mode = "disabled"
	// ModeSignature 要求每个写请求携带 EIP-191 签名。
	ModeSignature Mode = "signature"
)

// Config 描述认证服务的配置。
type Config struct {
	Mode Mode `json:"mode" mapstructure:"mode"`
	// MaxSkew 为时间戳允许的最大偏差，默认 5 分钟。
	MaxSkew time.Duration `json:"max_skew" mapstructure:"max_skew"`
}

// Subject 是通过认证的调用方。
type Subject struct {
	Address common.Address
	// Verified 为 false 表示地址来自未校验的请求头。
	Verified bool
}
