//go:build !production

package codec

const selfCheckDefault = true

// recoverDefects is false outside production builds: a panic that is not a
// decode failure propagates so the stack points at the defect.
const recoverDefects = false
