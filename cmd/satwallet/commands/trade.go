package commands

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"satwallet/internal/crypto"
	"satwallet/internal/domain"
	"satwallet/internal/handlers"
	tradesvc "satwallet/internal/services/trade"
	"satwallet/internal/txbuilder"
)

var (
	tradeAs  string
	tradeRev uint64
)

// trade: negotiate a swap. Users are identified by their ordinal address.
func tradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trade",
		Short: "Negotiate a two-party swap",
	}
	cmd.PersistentFlags().StringVar(&tradeAs, "as", "", "act as this user id (default: this wallet's ordinal address)")
	cmd.PersistentFlags().Uint64Var(&tradeRev, "rev", 0, "fail unless the trade is still at this revision")

	cmd.AddCommand(
		tradeRequestCmd(), tradeAcceptCmd(), tradeDeclineCmd(),
		tradeAddCmd(), tradeRemoveCmd(),
		tradeLockCmd(), tradeUnlockCmd(), tradeCancelCmd(),
		tradeShowCmd(), tradeListCmd(),
		tradeSignCmd(), tradeCompleteCmd(),
	)
	return cmd
}

// actor resolves the acting user id.
func actor() (string, error) {
	if tradeAs != "" {
		return tradeAs, nil
	}
	addr, err := appCtx.Vault.Address(domain.RoleOrdinal)
	if err != nil {
		return "", fmt.Errorf("no wallet to act as; use --as: %w", err)
	}
	return addr.String(), nil
}

func expect() tradesvc.Expect { return tradesvc.Expect{Revision: tradeRev} }

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// sessionCmd builds a subcommand that applies op to one session as the actor.
func sessionCmd(use, short string, op func(ctx context.Context, id, by string) (domain.TradeSession, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			by, err := actor()
			if err != nil {
				return err
			}
			sess, err := op(cmd.Context(), args[0], by)
			if err != nil {
				return err
			}
			return printJSON(sess)
		},
	}
}

func tradeRequestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "request <user-id>",
		Short: "Invite a user to trade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			by, err := actor()
			if err != nil {
				return err
			}
			req, err := appCtx.Trades.RequestTrade(cmd.Context(), by, args[0])
			if err != nil {
				return err
			}
			return printJSON(req)
		},
	}
}

func tradeAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <request-id>",
		Short: "Accept a trade request and open the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			by, err := actor()
			if err != nil {
				return err
			}
			sess, err := appCtx.Trades.AcceptRequest(cmd.Context(), args[0], by)
			if err != nil {
				return err
			}
			return printJSON(sess)
		},
	}
}

func tradeDeclineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decline <request-id>",
		Short: "Decline or withdraw a trade request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			by, err := actor()
			if err != nil {
				return err
			}
			if err := appCtx.Trades.DeclineRequest(cmd.Context(), args[0], by); err != nil {
				return err
			}
			fmt.Println("Request declined.")
			return nil
		},
	}
}

func tradeAddCmd() *cobra.Command {
	var item domain.AssetRef
	var utxo, amount string
	cmd := sessionCmd("add", "Offer an item", func(ctx context.Context, id, by string) (domain.TradeSession, error) {
		if item.ID == "" {
			item.ID = utxo
		}
		if utxo != "" {
			item.UTXO = &utxo
		}
		if amount != "" {
			item.Amount = &amount
		}
		return appCtx.Trades.AddItem(ctx, id, by, item, expect())
	})
	cmd.Flags().StringVar(&item.ID, "id", "", "item id (default: the utxo)")
	cmd.Flags().StringVar(&item.Name, "name", "", "display name")
	cmd.Flags().StringVar(&item.Type, "type", "ordinal", "item type")
	cmd.Flags().StringVar(&item.Image, "image", "", "image url")
	cmd.Flags().StringVar(&utxo, "utxo", "", "outpoint txid:vout holding the item")
	cmd.Flags().StringVar(&amount, "amount", "", "value in satoshis (default 1)")
	return cmd
}

func tradeRemoveCmd() *cobra.Command {
	var itemID string
	cmd := sessionCmd("remove", "Withdraw an offered item", func(ctx context.Context, id, by string) (domain.TradeSession, error) {
		return appCtx.Trades.RemoveItem(ctx, id, by, itemID, expect())
	})
	cmd.Flags().StringVar(&itemID, "id", "", "item id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func tradeLockCmd() *cobra.Command {
	return sessionCmd("lock", "Confirm your offer is final", func(ctx context.Context, id, by string) (domain.TradeSession, error) {
		return appCtx.Trades.Lock(ctx, id, by, expect())
	})
}

func tradeUnlockCmd() *cobra.Command {
	return sessionCmd("unlock", "Withdraw your confirmation (clears both locks)", func(ctx context.Context, id, by string) (domain.TradeSession, error) {
		return appCtx.Trades.Unlock(ctx, id, by, expect())
	})
}

func tradeCancelCmd() *cobra.Command {
	return sessionCmd("cancel", "Cancel the trade", func(ctx context.Context, id, by string) (domain.TradeSession, error) {
		return appCtx.Trades.Cancel(ctx, id, by, expect())
	})
}

func tradeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a trade and whether the partner is online",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := appCtx.Trades.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if by, err := actor(); err == nil {
				_ = appCtx.Trades.Heartbeat(cmd.Context(), sess.SessionID, by)
				if online, err := appCtx.Trades.PartnerOnline(cmd.Context(), sess.SessionID, by); err == nil {
					return printJSON(struct {
						domain.TradeSession
						PartnerOnline bool `json:"partnerOnline"`
					}{sess, online})
				}
			}
			return printJSON(sess)
		},
	}
}

func tradeListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List your trades and pending requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			by, err := actor()
			if err != nil {
				return err
			}
			sessions, err := appCtx.Trades.List(cmd.Context(), by, domain.TradeStatus(status))
			if err != nil {
				return err
			}
			incoming, outgoing, err := appCtx.Trades.Requests(cmd.Context(), by, domain.RequestPending)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"sessions": sessions,
				"incoming": incoming,
				"outgoing": outgoing,
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only trades in this status")
	return cmd
}

// trade sign: sign this wallet's inputs of a ready trade. The first signer
// funds the fee (--fund); the last signer broadcasts (--broadcast).
func tradeSignCmd() *cobra.Command {
	var fund, broadcast bool
	var feeRate uint64
	cmd := &cobra.Command{
		Use:   "sign <session-id>",
		Short: "Sign your inputs of a ready trade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			by, err := actor()
			if err != nil {
				return err
			}
			sess, err := appCtx.Trades.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if sess.Status != domain.TradeReady {
				return tradesvc.ErrNotReady
			}
			reqs, err := ownedInputs(sess, by)
			if err != nil {
				return err
			}

			pass, err := readPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
			if err := appCtx.Vault.Unlock(pass); err != nil {
				return err
			}
			defer appCtx.Vault.Lock()

			method, params := domain.MethodSignTx, any(handlers.SignTxParams{RawTx: sess.TransactionHex, SigRequests: reqs, Broadcast: broadcast})
			if fund {
				method = domain.MethodFundTx
				params = handlers.FundTxParams{RawTx: sess.TransactionHex, SigRequests: reqs, FeeRate: feeRate, Broadcast: broadcast}
			}
			res, callErr := callLocal(ctx, method, params)
			if callErr != nil {
				var be *domain.BridgeError
				if errors.As(callErr, &be) && be.Code == domain.CodeBroadcastFailed {
					_, _ = appCtx.Trades.RecordBroadcast(ctx, sess.SessionID, tradesvc.Outcome{Err: callErr}, tradesvc.Expect{})
				}
				return callErr
			}

			if broadcast {
				sess, err = appCtx.Trades.RecordBroadcast(ctx, sess.SessionID, tradesvc.Outcome{TxID: res.TxID, RawTx: res.RawTx}, expect())
			} else {
				sess, err = appCtx.Trades.AttachTransaction(ctx, sess.SessionID, by, res.RawTx, expect())
			}
			if err != nil {
				return err
			}
			return printJSON(sess)
		},
	}
	cmd.Flags().BoolVar(&fund, "fund", false, "add payment inputs and change to cover the fee")
	cmd.Flags().BoolVar(&broadcast, "broadcast", false, "broadcast after signing and complete the trade")
	cmd.Flags().Uint64Var(&feeRate, "fee-rate", 0, "satoshis per kilobyte when funding (default from config)")
	return cmd
}

func tradeCompleteCmd() *cobra.Command {
	var txid, rawtx string
	cmd := &cobra.Command{
		Use:   "complete <session-id>",
		Short: "Record a broadcast made elsewhere and complete the trade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := appCtx.Trades.RecordBroadcast(cmd.Context(), args[0], tradesvc.Outcome{TxID: txid, RawTx: rawtx}, expect())
			if err != nil {
				return err
			}
			return printJSON(sess)
		},
	}
	cmd.Flags().StringVar(&txid, "txid", "", "broadcast transaction id")
	cmd.Flags().StringVar(&rawtx, "rawtx", "", "broadcast transaction hex, checked against the locked trade")
	_ = cmd.MarkFlagRequired("txid")
	return cmd
}

// ownedInputs builds signature requests for the inputs of the trade
// transaction that spend by's items. Items are held at by's address.
func ownedInputs(sess domain.TradeSession, by string) ([]domain.SigRequest, error) {
	var items []domain.AssetRef
	switch by {
	case sess.InitiatorID:
		items = sess.InitiatorItems
	case sess.ParticipantID:
		items = sess.ParticipantItems
	default:
		return nil, tradesvc.ErrNotParty
	}
	raw, err := hex.DecodeString(sess.TransactionHex)
	if err != nil {
		return nil, err
	}
	tx, err := txbuilder.Decode(raw)
	if err != nil {
		return nil, err
	}
	script, err := crypto.AddressScript(domain.Address(by))
	if err != nil {
		return nil, err
	}
	sats := make(map[string]uint64, len(items))
	for _, it := range items {
		if it.UTXO == nil {
			continue
		}
		v := uint64(1)
		if it.Amount != nil && *it.Amount != "" {
			if v, err = strconv.ParseUint(*it.Amount, 10, 64); err != nil {
				return nil, fmt.Errorf("item %s amount: %w", it.ID, err)
			}
		}
		sats[*it.UTXO] = v
	}
	var reqs []domain.SigRequest
	for i, in := range tx.TxIn {
		v, ok := sats[in.PreviousOutPoint.String()]
		if !ok {
			continue
		}
		reqs = append(reqs, domain.SigRequest{InputIndex: i, Satoshis: v, Script: hex.EncodeToString(script)})
	}
	return reqs, nil
}

// callLocal runs a bridge method directly. The CLI user is the key holder,
// so no approval prompt is involved.
func callLocal(ctx context.Context, method domain.Method, params any) (handlers.TxResult, error) {
	route, ok := appCtx.Handlers.Lookup(method)
	if !ok {
		return handlers.TxResult{}, fmt.Errorf("unsupported method %s", method)
	}
	body, err := json.Marshal(params)
	if err != nil {
		return handlers.TxResult{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	out, err := route.Func(ctx, domain.Call{Request: domain.Request{
		ID:      uuid.NewString(),
		Version: domain.ProtocolVersion,
		Method:  method,
		Params:  body,
	}})
	if err != nil {
		return handlers.TxResult{}, err
	}
	res, ok := out.(handlers.TxResult)
	if !ok {
		return handlers.TxResult{}, fmt.Errorf("unexpected %T result", out)
	}
	return res, nil
}
