package crypto

// Zero overwrites a byte slice with zeros. Master keys and unwrapped DEKs
// are transient; callers wipe them as soon as the wrap or unwrap is done.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ZeroAll wipes several slices at once.
func ZeroAll(bs ...[]byte) {
	for _, b := range bs {
		Zero(b)
	}
}
