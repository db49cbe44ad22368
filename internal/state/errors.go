package state

import "errors"

var (
	errSubscriptionFailed = errors.New("state: subscription entered error status")
	errWaitTimeout        = errors.New("state: wait for subscription ready timed out")
)
