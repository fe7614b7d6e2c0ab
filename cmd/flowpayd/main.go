package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "flowpayd",
	Short: "FlowPay escrow ledger daemon and client",
	Long: `flowpayd runs the FlowPay ledger: milestone escrow for freelance jobs,
yield custody for locked funds and AMM conversion of payouts.

serve starts the REST API; the job, quote and swap commands talk to a
running server; watch tails the event stream.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FLOWPAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (yaml or json)")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080", "FlowPay API base url")
	rootCmd.PersistentFlags().String("key", "", "hex private key used to sign write requests")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("key", rootCmd.PersistentFlags().Lookup("key"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(bootstrapCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(jobCmd())
	rootCmd.AddCommand(quoteCmd())
	rootCmd.AddCommand(swapCmd())
}
