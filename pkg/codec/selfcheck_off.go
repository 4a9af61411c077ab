//go:build production

package codec

const selfCheckDefault = false

// recoverDefects turns unexpected decoder panics into INTERNAL_ERROR.
const recoverDefects = true
