// Package config loads the FlowPay daemon configuration from JSON or YAML
// files, overlays FLOWPAY_* environment variables and fills in defaults.
package config
