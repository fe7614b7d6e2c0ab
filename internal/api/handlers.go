package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"FlowPay-Chain/internal/auth"
	"FlowPay-Chain/internal/ledger"
	"FlowPay-Chain/pkg/amount"
)

const defaultSlippageBps = 100

type createJobRequest struct {
	Freelancer     common.Address `json:"freelancer"`
	TotalAmount    amount.Amount  `json:"total_amount"`
	Asset          common.Address `json:"asset"`
	MilestoneCount uint32         `json:"milestone_count"`
}

type proofRequest struct {
	Proof string `json:"proof"`
}

type releaseRequest struct {
	TargetAsset *common.Address `json:"target_asset,omitempty"`
}

type depositRequest struct {
	Amount amount.Amount  `json:"amount"`
	Asset  common.Address `json:"asset"`
}

type withdrawRequest struct {
	Units amount.Amount `json:"units"`
}

type withdrawPrincipalRequest struct {
	Amount amount.Amount `json:"amount"`
}

type swapRequest struct {
	From           common.Address  `json:"from"`
	To             common.Address  `json:"to"`
	Amount         amount.Amount   `json:"amount"`
	Recipient      *common.Address `json:"recipient,omitempty"`
	MaxSlippageBps *uint32         `json:"max_slippage_bps,omitempty"`
}

type addLiquidityRequest struct {
	AssetA  common.Address `json:"asset_a"`
	AmountA amount.Amount  `json:"amount_a"`
	AssetB  common.Address `json:"asset_b"`
	AmountB amount.Amount  `json:"amount_b"`
}

type transferRequest struct {
	Asset  common.Address `json:"asset"`
	To     common.Address `json:"to"`
	Amount amount.Amount  `json:"amount"`
}

// amountResponse 是返回金额的写操作的通用响应体。
type amountResponse struct {
	Amount  amount.Amount  `json:"amount"`
	Receipt ledger.Receipt `json:"receipt"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, auth.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "请求体格式错误: "+err.Error())
		return false
	}
	return true
}

// signer 返回经过校验的调用方地址。
func signer(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, ok := auth.SignerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "缺少调用方签名")
		return common.Address{}, false
	}
	return addr, true
}

func addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	raw := chi.URLParam(r, name)
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "非法地址: "+name)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (common.Hash, bool) {
	raw := strings.TrimPrefix(strings.TrimPrefix(chi.URLParam(r, "jobID"), "0x"), "0X")
	if len(raw) != 2*common.HashLength {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "非法任务 ID")
		return common.Hash{}, false
	}
	return common.HexToHash(raw), true
}

func milestoneParam(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "milestoneID"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "非法里程碑 ID")
		return 0, false
	}
	return uint32(id), true
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	client, ok := signer(w, r)
	if !ok {
		return
	}
	var req createJobRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	id, receipt, err := s.platform.CreateJob(r.Context(), client, req.Freelancer, req.TotalAmount, req.Asset, req.MilestoneCount)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"job_id": id, "receipt": receipt})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	job, err := s.platform.GetJob(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleSubmitProof(w http.ResponseWriter, r *http.Request) {
	caller, ok := signer(w, r)
	if !ok {
		return
	}
	id, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	ms, ok := milestoneParam(w, r)
	if !ok {
		return
	}
	var req proofRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	receipt, err := s.platform.SubmitProof(r.Context(), caller, id, ms, req.Proof)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipt": receipt})
}

func (s *Server) handleApproveMilestone(w http.ResponseWriter, r *http.Request) {
	caller, ok := signer(w, r)
	if !ok {
		return
	}
	id, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	ms, ok := milestoneParam(w, r)
	if !ok {
		return
	}
	receipt, err := s.platform.ApproveMilestone(r.Context(), caller, id, ms)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipt": receipt})
}

func (s *Server) handleReleasePayment(w http.ResponseWriter, r *http.Request) {
	caller, ok := signer(w, r)
	if !ok {
		return
	}
	id, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	ms, ok := milestoneParam(w, r)
	if !ok {
		return
	}
	var req releaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	paid, receipt, err := s.platform.ReleasePayment(r.Context(), caller, id, ms, req.TargetAsset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: paid, Receipt: receipt})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := signer(w, r)
	if !ok {
		return
	}
	id, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	refund, receipt, err := s.platform.CancelJob(r.Context(), caller, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: refund, Receipt: receipt})
}

func (s *Server) handleFinalizeJob(w http.ResponseWriter, r *http.Request) {
	caller, ok := signer(w, r)
	if !ok {
		return
	}
	id, ok := jobIDParam(w, r)
	if !ok {
		return
	}
	returned, receipt, err := s.platform.FinalizeJob(r.Context(), caller, id)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: returned, Receipt: receipt})
}

func (s *Server) handleListClientJobs(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	jobs, err := s.platform.ListClientJobs(r.Context(), addr)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleListFreelancerJobs(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	jobs, err := s.platform.ListFreelancerJobs(r.Context(), addr)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleCustodySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.platform.Custody(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	addr, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	pos, err := s.platform.GetPosition(r.Context(), addr)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	owner, ok := signer(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	units, receipt, err := s.platform.Deposit(r.Context(), owner, req.Amount, req.Asset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: units, Receipt: receipt})
}

func (s *Server) handleHarvest(w http.ResponseWriter, r *http.Request) {
	owner, ok := signer(w, r)
	if !ok {
		return
	}
	harvested, receipt, err := s.platform.HarvestYield(r.Context(), owner)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: harvested, Receipt: receipt})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	owner, ok := signer(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, receipt, err := s.platform.Withdraw(r.Context(), owner, req.Units)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: out, Receipt: receipt})
}

func (s *Server) handleWithdrawPrincipal(w http.ResponseWriter, r *http.Request) {
	owner, ok := signer(w, r)
	if !ok {
		return
	}
	var req withdrawPrincipalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, receipt, err := s.platform.WithdrawPrincipal(r.Context(), owner, req.Amount)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: out, Receipt: receipt})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if !common.IsHexAddress(from) || !common.IsHexAddress(to) {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "from/to 必须是合法地址")
		return
	}
	amt, err := amount.Parse(q.Get("amount"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	quote, err := s.platform.Quote(r.Context(), common.HexToAddress(from), common.HexToAddress(to), amt)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	sender, ok := signer(w, r)
	if !ok {
		return
	}
	var req swapRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	recipient := sender
	if req.Recipient != nil {
		recipient = *req.Recipient
	}
	bps := uint32(defaultSlippageBps)
	if req.MaxSlippageBps != nil {
		bps = *req.MaxSlippageBps
	}
	out, receipt, err := s.platform.Swap(r.Context(), sender, req.From, req.To, req.Amount, recipient, bps)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amountResponse{Amount: out, Receipt: receipt})
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.platform.ListPools(r.Context())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": pools})
}

func (s *Server) handlePoolReserves(w http.ResponseWriter, r *http.Request) {
	a, ok := addressParam(w, r, "assetA")
	if !ok {
		return
	}
	b, ok := addressParam(w, r, "assetB")
	if !ok {
		return
	}
	reserves, err := s.platform.PoolReserves(r.Context(), a, b)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reserves)
}

func (s *Server) handleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	provider, ok := signer(w, r)
	if !ok {
		return
	}
	var req addLiquidityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	pool, receipt, err := s.platform.AddLiquidity(r.Context(), provider, req.AssetA, req.AmountA, req.AssetB, req.AmountB)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"pool": pool, "receipt": receipt})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	asset, ok := addressParam(w, r, "asset")
	if !ok {
		return
	}
	account, ok := addressParam(w, r, "address")
	if !ok {
		return
	}
	balance, err := s.platform.Balance(r.Context(), asset, account)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asset": asset, "account": account, "balance": balance})
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	from, ok := signer(w, r)
	if !ok {
		return
	}
	var req transferRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	receipt, err := s.platform.Transfer(r.Context(), from, req.Asset, req.To, req.Amount)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipt": receipt})
}
