package sentinel

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/oraclesentinel/sentinel-go/metrics"
	"github.com/oraclesentinel/sentinel-go/types"
	"github.com/oraclesentinel/sentinel-go/utils"
)

// dispatch is the state of one authorized call.
type dispatch struct {
	id    string
	req   types.APIRequest
	state types.DispatchState

	status      types.HolderStatus
	requirement *types.PaymentRequirement
	receipt     *types.PaymentReceipt

	resp *types.APIResponse
	err  error
}

// dispatch drives req through EVALUATING -> CALLING -> (PAYING -> CALLING)? -> DONE | FAILED.
// At most one payment is made per call.
func (c *Client) dispatch(ctx context.Context, req types.APIRequest) (*types.APIResponse, error) {
	d := &dispatch{
		id:    uuid.NewString(),
		req:   req,
		state: types.StateEvaluating,
	}
	if req.Endpoint.Free() {
		d.state = types.StateCalling
	}

	start := c.now()
	for d.state != types.StateDone && d.state != types.StateFailed {
		from := d.state
		switch d.state {
		case types.StateEvaluating:
			d.state = c.evaluate(ctx, d)
		case types.StateCalling:
			d.state = c.callEndpoint(ctx, d)
		case types.StatePaying:
			d.state = c.pay(ctx, d)
		default:
			d.err = fmt.Errorf("unknown dispatch state %q", d.state)
			d.state = types.StateFailed
		}

		c.logger.Debug("dispatch transition", map[string]any{
			"dispatch_id": d.id,
			"endpoint":    req.Endpoint.Name,
			"from":        string(from),
			"to":          string(d.state),
		})
	}

	outcome := "ok"
	if d.state == types.StateFailed {
		outcome = "failed"
	}
	labels := map[string]string{"endpoint": req.Endpoint.Name, "outcome": outcome}
	c.metrics.IncCounter(metrics.EventDispatch, labels)
	c.metrics.ObserveLatency(metrics.OpDispatch, c.now().Sub(start), labels)

	if d.state == types.StateFailed {
		if d.receipt != nil {
			c.logger.Error("call failed after payment", map[string]any{
				"dispatch_id":    d.id,
				"endpoint":       req.Endpoint.Name,
				"reference":      d.receipt.Reference,
				"transaction_id": d.receipt.TransactionID,
				"error":          d.err,
			})
			return nil, &types.PaidCallError{Receipt: *d.receipt, Err: d.err}
		}
		return nil, d.err
	}
	return d.resp, nil
}

// evaluate resolves holder status. Only a rejected signature is fatal; any
// other failure degrades to the paid path.
func (c *Client) evaluate(ctx context.Context, d *dispatch) types.DispatchState {
	status, err := c.evaluator.Evaluate(ctx, c.holder.PublicKey())
	if err == nil {
		d.status = status
		return types.StateCalling
	}

	var sigErr *types.SignatureVerificationError
	if errors.As(err, &sigErr) {
		d.err = err
		return types.StateFailed
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		d.err = ctxErr
		return types.StateFailed
	}

	c.logger.Warn("holder evaluation failed, continuing without free access", map[string]any{
		"dispatch_id": d.id,
		"wallet":      c.WalletAddress(),
		"error":       err,
	})
	return types.StateCalling
}

func (c *Client) callEndpoint(ctx context.Context, d *dispatch) types.DispatchState {
	headers := http.Header{}
	if d.status.HasFreeAccess && d.status.Proof != "" {
		headers.Set(types.HeaderHolderProof, d.status.Proof)
	}
	if d.receipt != nil {
		payment, err := utils.EncodePaymentHeader(d.receipt, c.network)
		if err != nil {
			d.err = err
			return types.StateFailed
		}
		headers.Set(types.HeaderPayment, payment)
	}

	resp, err := c.api.Call(ctx, d.req, headers)
	if err != nil {
		d.err = err
		return types.StateFailed
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		d.resp = resp
		return types.StateDone
	case resp.StatusCode == http.StatusPaymentRequired:
		return c.paymentRequired(ctx, d, resp)
	default:
		d.err = &types.APIError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
		return types.StateFailed
	}
}

func (c *Client) paymentRequired(ctx context.Context, d *dispatch, resp *types.APIResponse) types.DispatchState {
	if d.receipt != nil {
		d.err = &types.ProtocolError{
			Reason: fmt.Sprintf("server demanded payment again after payment %s (transaction %s)",
				d.receipt.Reference, d.receipt.TransactionID),
		}
		return types.StateFailed
	}

	req, err := utils.ParsePaymentRequired(resp.Body)
	if err != nil {
		d.err = &types.ProtocolError{Reason: fmt.Sprintf("malformed payment requirement: %v", err)}
		return types.StateFailed
	}

	if d.status.HasFreeAccess {
		// the proof was not honored; re-prove on the next call
		c.logger.Warn("holder proof rejected by server", map[string]any{
			"dispatch_id": d.id,
			"wallet":      c.WalletAddress(),
		})
		if err := c.evaluator.Invalidate(ctx, c.holder.PublicKey()); err != nil {
			c.logger.Warn("failed to invalidate holder status", map[string]any{"error": err})
		}
	}

	if c.cfg.DisableAutoPay || d.req.Endpoint.Free() {
		d.err = &types.PaymentRequiredError{Requirement: *req}
		return types.StateFailed
	}
	if req.Network != "" && types.Network(req.Network) != c.network {
		d.err = &types.X402Error{
			Code:    types.ErrUnsupportedNetwork,
			Message: fmt.Sprintf("payment requested on %s, client settles on %s", req.Network, c.network),
		}
		return types.StateFailed
	}

	d.requirement = req
	return types.StatePaying
}

func (c *Client) pay(ctx context.Context, d *dispatch) types.DispatchState {
	c.logger.Info("paying for request", map[string]any{
		"dispatch_id": d.id,
		"endpoint":    d.req.Endpoint.Name,
		"reference":   d.requirement.Reference,
		"amount":      d.requirement.Amount,
	})

	receipt, err := c.engine.Pay(ctx, *d.requirement)
	if err != nil {
		d.err = err
		return types.StateFailed
	}

	d.receipt = receipt
	return types.StateCalling
}
