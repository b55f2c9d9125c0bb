// Package handlers implements the wallet.* bridge methods.
//
// A Registry maps each domain.Method to a Route: the Policy the approval
// gate enforces before dispatch and the Func that does the work. Handlers
// read and sign through the Wallet interface only; they never see private
// keys. Failures are returned as *domain.BridgeError so the gate can put
// them on the wire unchanged.
package handlers
