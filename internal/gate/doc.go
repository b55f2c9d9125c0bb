// Package gate is the approval gate between bridge requests and the method
// handlers.
//
// The gate cycles Idle -> AwaitingApproval -> Dispatching -> Idle. At most
// one request waits for the user at a time; others that need a decision are
// answered "busy" at once. The user answers through a Decision, a one-shot
// capability handed to the Prompter. Prompts that are not answered within the
// prompt timeout, or whose connection closes, are rejected. Handler errors and
// panics become error responses and the gate always returns to Idle.
//
// Each (origin, id) pair is accepted once. A repeated id is dropped without a
// second response, so the original keeps its single answer.
package gate
