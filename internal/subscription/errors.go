package subscription

import "errors"

var errInvalidTopic = errors.New("subscription: topic must not be empty")
