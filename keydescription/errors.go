package keydescription

import "errors"

// ErrExtensionNotPresent is returned by Decode when the leaf certificate
// carries no Key Description extension at all.
var ErrExtensionNotPresent = errors.New("keydescription: certificate has no Key Description extension")

// ErrMalformed wraps every DER structural failure encountered while
// decoding a present Key Description extension.
var ErrMalformed = errors.New("keydescription: malformed Key Description extension")
