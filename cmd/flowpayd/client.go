package main

import (
	"errors"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"FlowPay-Chain/pkg/amount"
	"FlowPay-Chain/sdk/go/flowpay"
)

func newClient(requireKey bool) (*flowpay.Client, error) {
	c, err := flowpay.NewClient(viper.GetString("server"), nil)
	if err != nil {
		return nil, err
	}
	raw := strings.TrimPrefix(strings.TrimSpace(viper.GetString("key")), "0x")
	if raw == "" {
		if requireKey {
			return nil, errors.New("写操作需要 --key 或 FLOWPAY_KEY")
		}
		return c, nil
	}
	key, err := crypto.HexToECDSA(raw)
	if err != nil {
		return nil, errors.New("无效的私钥")
	}
	return c.WithKey(key), nil
}

func parseAddress(name, raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, errors.New("invalid " + name + " address: " + raw)
	}
	return common.HexToAddress(raw), nil
}

func parseJobID(raw string) (common.Hash, error) {
	trimmed := strings.TrimPrefix(raw, "0x")
	if len(trimmed) != 2*common.HashLength {
		return common.Hash{}, errors.New("invalid job id: " + raw)
	}
	return common.HexToHash(trimmed), nil
}

func parseMilestone(raw string) (uint32, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, errors.New("invalid milestone id: " + raw)
	}
	return uint32(id), nil
}

func jobCmd() *cobra.Command {
	job := &cobra.Command{Use: "job", Short: "Manage escrow jobs on a running server"}
	job.AddCommand(jobCreateCmd())
	job.AddCommand(jobShowCmd())
	job.AddCommand(jobProofCmd())
	job.AddCommand(jobApproveCmd())
	job.AddCommand(jobReleaseCmd())
	job.AddCommand(jobCancelCmd())
	job.AddCommand(jobFinalizeCmd())
	return job
}

func jobCreateCmd() *cobra.Command {
	var milestones uint32
	cmd := &cobra.Command{
		Use:   "create <freelancer> <asset> <total>",
		Short: "Lock funds for a new job",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			freelancer, err := parseAddress("freelancer", args[0])
			if err != nil {
				return err
			}
			asset, err := parseAddress("asset", args[1])
			if err != nil {
				return err
			}
			total, err := amount.Parse(args[2])
			if err != nil {
				return err
			}
			c, err := newClient(true)
			if err != nil {
				return err
			}
			out, err := c.CreateJob(cmd.Context(), freelancer, total, asset, milestones)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().Uint32VarP(&milestones, "milestones", "m", 1, "number of milestones")
	return cmd
}

func jobShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			c, err := newClient(false)
			if err != nil {
				return err
			}
			job, err := c.GetJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(job)
		},
	}
}

func jobProofCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "proof <job-id> <milestone> <reference>",
		Short: "Submit proof of work for a milestone",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			ms, err := parseMilestone(args[1])
			if err != nil {
				return err
			}
			c, err := newClient(true)
			if err != nil {
				return err
			}
			receipt, err := c.SubmitProof(cmd.Context(), id, ms, args[2])
			if err != nil {
				return err
			}
			return printJSON(receipt)
		},
	}
}

func jobApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve <job-id> <milestone>",
		Short: "Approve a milestone",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			ms, err := parseMilestone(args[1])
			if err != nil {
				return err
			}
			c, err := newClient(true)
			if err != nil {
				return err
			}
			receipt, err := c.ApproveMilestone(cmd.Context(), id, ms)
			if err != nil {
				return err
			}
			return printJSON(receipt)
		},
	}
}

func jobReleaseCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "release <job-id> <milestone>",
		Short: "Release an approved milestone, optionally converted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			ms, err := parseMilestone(args[1])
			if err != nil {
				return err
			}
			var targetAsset *common.Address
			if target != "" {
				addr, err := parseAddress("target", target)
				if err != nil {
					return err
				}
				targetAsset = &addr
			}
			c, err := newClient(true)
			if err != nil {
				return err
			}
			out, err := c.ReleasePayment(cmd.Context(), id, ms, targetAsset)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&target, "to-asset", "", "convert the payout into this asset")
	return cmd
}

func jobCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a job and refund everything unpaid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			c, err := newClient(true)
			if err != nil {
				return err
			}
			out, err := c.CancelJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func jobFinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <job-id>",
		Short: "Close a completed job and return remaining funds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			c, err := newClient(true)
			if err != nil {
				return err
			}
			out, err := c.FinalizeJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
}

func quoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quote <from> <to> <amount>",
		Short: "Quote a conversion",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseAddress("from", args[0])
			if err != nil {
				return err
			}
			to, err := parseAddress("to", args[1])
			if err != nil {
				return err
			}
			amt, err := amount.Parse(args[2])
			if err != nil {
				return err
			}
			c, err := newClient(false)
			if err != nil {
				return err
			}
			q, err := c.Quote(cmd.Context(), from, to, amt)
			if err != nil {
				return err
			}
			return printJSON(q)
		},
	}
}

func swapCmd() *cobra.Command {
	var slippage uint32
	cmd := &cobra.Command{
		Use:   "swap <from> <to> <amount>",
		Short: "Convert funds owned by the signing key",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseAddress("from", args[0])
			if err != nil {
				return err
			}
			to, err := parseAddress("to", args[1])
			if err != nil {
				return err
			}
			amt, err := amount.Parse(args[2])
			if err != nil {
				return err
			}
			c, err := newClient(true)
			if err != nil {
				return err
			}
			out, err := c.Swap(cmd.Context(), from, to, amt, slippage)
			if err != nil {
				return err
			}
			return printJSON(out)
		},
	}
	cmd.Flags().Uint32Var(&slippage, "max-slippage-bps", 100, "maximum slippage in basis points")
	return cmd
}
