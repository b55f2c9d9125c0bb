package handlers

import (
	"context"
	"encoding/base64"
	"time"

	"go.uber.org/zap"

	"satwallet/internal/domain"
)

// StatusResult is the wallet.status result.
type StatusResult struct {
	Locked    bool              `json:"locked"`
	HasKeys   bool              `json:"hasKeys"`
	Network   domain.Network    `json:"network"`
	Features  []string          `json:"features"`
	Addresses *domain.Addresses `json:"addresses,omitempty"`
}

func (r *Registry) status(_ context.Context, _ domain.Call) (any, error) {
	res := StatusResult{
		Locked:   r.wallet.Locked(),
		HasKeys:  r.wallet.HasKeys(),
		Network:  r.wallet.Network(),
		Features: r.Features(),
	}
	if res.HasKeys {
		if addrs, err := r.wallet.Addresses(); err == nil {
			res.Addresses = &addrs
		}
	}
	return res, nil
}

// ConnectResult is the wallet.connect result.
type ConnectResult struct {
	Addresses domain.Addresses `json:"addresses"`
	PubKeys   domain.PubKeys   `json:"pubKeys"`
}

func (r *Registry) connect(_ context.Context, call domain.Call) (any, error) {
	addrs, err := r.wallet.Addresses()
	if err != nil {
		return nil, walletError(err)
	}
	pubs, err := r.wallet.PubKeys()
	if err != nil {
		return nil, walletError(err)
	}
	r.mu.Lock()
	r.connected[call.TransportOrigin] = time.Now()
	r.mu.Unlock()
	r.log.Info("origin connected", zap.String("origin", call.TransportOrigin))
	return ConnectResult{Addresses: addrs, PubKeys: pubs}, nil
}

// SignMessageParams are the wallet.signMessage params.
type SignMessageParams struct {
	Data     string `json:"data"`
	Encoding string `json:"encoding,omitempty"`
	Key      string `json:"key,omitempty"`
}

// SignMessageResult is the wallet.signMessage result.
type SignMessageResult struct {
	Signature string         `json:"signature"`
	PubKey    string         `json:"pubKey"`
	Address   domain.Address `json:"address"`
}

func (r *Registry) signMessage(_ context.Context, call domain.Call) (any, error) {
	var p SignMessageParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	msg, err := decodePayload(p.Data, p.Encoding)
	if err != nil {
		return nil, err
	}
	role := domain.RoleOrdinal
	if p.Key != "" {
		var ok bool
		if role, ok = domain.ParseKeyRole(p.Key); !ok {
			return nil, invalid("unknown key %q", p.Key)
		}
	}
	sig, pub, err := r.wallet.SignMessage(role, msg)
	if err != nil {
		return nil, walletError(err)
	}
	addr, err := r.wallet.Address(role)
	if err != nil {
		return nil, walletError(err)
	}
	return SignMessageResult{Signature: sig, PubKey: pub, Address: addr}, nil
}

// CipherParams are the wallet.encrypt and wallet.decrypt params.
type CipherParams struct {
	Data     string `json:"data"`
	Encoding string `json:"encoding,omitempty"`
}

// CipherResult carries an encrypted or decrypted payload.
type CipherResult struct {
	Data     string `json:"data"`
	Encoding string `json:"encoding"`
}

func (r *Registry) encrypt(_ context.Context, call domain.Call) (any, error) {
	var p CipherParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	pt, err := decodePayload(p.Data, p.Encoding)
	if err != nil {
		return nil, err
	}
	blob, err := r.wallet.Encrypt(pt)
	if err != nil {
		return nil, walletError(err)
	}
	return CipherResult{Data: base64.StdEncoding.EncodeToString(blob), Encoding: EncodingBase64}, nil
}

func (r *Registry) decrypt(_ context.Context, call domain.Call) (any, error) {
	var p CipherParams
	if err := decodeParams(call, &p); err != nil {
		return nil, err
	}
	blob, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return nil, invalid("data is not valid base64")
	}
	pt, err := r.wallet.Decrypt(blob)
	if err != nil {
		r.log.Info("decrypt failed", zap.String("origin", call.TransportOrigin), zap.Error(err))
		return nil, walletError(err)
	}
	data, enc := encodePayload(pt, p.Encoding)
	return CipherResult{Data: data, Encoding: enc}, nil
}
