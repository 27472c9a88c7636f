package fec

// rsCodec is a systematic Reed-Solomon erasure code: the first k rows of
// its generator matrix are the identity (so source segments pass through
// unmodified and only the n parity segments carry redundancy), and the
// remaining n rows are a Cauchy matrix, which guarantees every k-of-(k+n)
// square submatrix of the generator is invertible — any k received
// segments, source or parity in any mix, recover the k source segments
// (spec.md §6, §8 invariant 2).
type rsCodec struct {
	f          *field
	k, n       int
	symbolSize int // bytes per field symbol: 1 for GF(2^8), 2 for GF(2^16)
	gen        [][]uint32 // (k+n) x k generator matrix
}

func newRSCodec8(k, n int) (*rsCodec, error) {
	return newRSCodec(field8, 1, k, n)
}

func newRSCodec16(k, n int) (*rsCodec, error) {
	return newRSCodec(field16, 2, k, n)
}

func newRSCodec(f *field, symbolSize, k, n int) (*rsCodec, error) {
	if k <= 0 || n <= 0 || k+n >= f.size {
		return nil, ErrBadDimensions
	}
	gen := make([][]uint32, k+n)
	for i := 0; i < k; i++ {
		row := make([]uint32, k)
		row[i] = 1
		gen[i] = row
	}
	// Cauchy matrix: parity row i, column j -> 1/(x_i ^ y_j), with
	// y_j = j (0..k-1) and x_i = k+i (k..k+n-1), so x_i and y_j are always
	// distinct and the xor is never zero.
	for i := 0; i < n; i++ {
		row := make([]uint32, k)
		x := uint32(k + i)
		for j := 0; j < k; j++ {
			y := uint32(j)
			row[j] = f.inv(f.add(x, y))
		}
		gen[k+i] = row
	}
	return &rsCodec{f: f, k: k, n: n, symbolSize: symbolSize, gen: gen}, nil
}

func (c *rsCodec) K() int { return c.k }
func (c *rsCodec) N() int { return c.n }

func (c *rsCodec) symbolAt(buf []byte, sym int) uint32 {
	if c.symbolSize == 1 {
		return uint32(buf[sym])
	}
	return uint32(buf[sym*2])<<8 | uint32(buf[sym*2+1])
}

func (c *rsCodec) setSymbolAt(buf []byte, sym int, v uint32) {
	if c.symbolSize == 1 {
		buf[sym] = byte(v)
		return
	}
	buf[sym*2] = byte(v >> 8)
	buf[sym*2+1] = byte(v)
}

func (c *rsCodec) symbolsPerSegment(segLen int) int {
	return segLen / c.symbolSize
}

// Encode computes the n parity segments from k equal-length source
// segments.
func (c *rsCodec) Encode(source [][]byte) ([][]byte, error) {
	if len(source) != c.k {
		return nil, ErrBadDimensions
	}
	segLen := len(source[0])
	for _, s := range source {
		if len(s) != segLen {
			return nil, ErrSizeMismatch
		}
	}
	if segLen%c.symbolSize != 0 {
		return nil, ErrSizeMismatch
	}
	nsym := c.symbolsPerSegment(segLen)
	parity := make([][]byte, c.n)
	for i := 0; i < c.n; i++ {
		out := make([]byte, segLen)
		row := c.gen[c.k+i]
		for sym := 0; sym < nsym; sym++ {
			var acc uint32
			for j := 0; j < c.k; j++ {
				acc = c.f.add(acc, c.f.mul(row[j], c.symbolAt(source[j], sym)))
			}
			c.setSymbolAt(out, sym, acc)
		}
		parity[i] = out
	}
	return parity, nil
}

// Decode reconstructs the k source segments from any k of the k+n segment
// slots marked present.
func (c *rsCodec) Decode(segments [][]byte, present []bool) ([][]byte, error) {
	if len(segments) != c.k+c.n || len(present) != c.k+c.n {
		return nil, ErrBadDimensions
	}
	var idx []int
	for i, ok := range present {
		if ok {
			idx = append(idx, i)
		}
	}
	if len(idx) < c.k {
		return nil, ErrInsufficientSegments
	}
	idx = idx[:c.k] // any k rows suffice; Cauchy construction keeps every subset invertible.

	// All present source segments pass straight through already; only
	// build/solve the linear system if at least one source segment is
	// missing.
	allSourcePresent := true
	for i := 0; i < c.k; i++ {
		if !present[i] {
			allSourcePresent = false
			break
		}
	}
	if allSourcePresent {
		return segments[:c.k], nil
	}

	segLen := -1
	for _, i := range idx {
		if segments[i] == nil {
			return nil, ErrSizeMismatch
		}
		if segLen == -1 {
			segLen = len(segments[i])
		} else if len(segments[i]) != segLen {
			return nil, ErrSizeMismatch
		}
	}
	if segLen%c.symbolSize != 0 {
		return nil, ErrSizeMismatch
	}

	m := make([][]uint32, c.k)
	for t, i := range idx {
		row := make([]uint32, c.k)
		copy(row, c.gen[i])
		m[t] = row
	}
	inv, err := c.f.invertMatrix(m)
	if err != nil {
		return nil, err
	}

	nsym := c.symbolsPerSegment(segLen)
	source := make([][]byte, c.k)
	for j := range source {
		if present[j] {
			source[j] = segments[j]
			continue
		}
		source[j] = make([]byte, segLen)
	}
	recvSlice := make([]uint32, c.k)
	for sym := 0; sym < nsym; sym++ {
		for t, i := range idx {
			recvSlice[t] = c.symbolAt(segments[i], sym)
		}
		for j := 0; j < c.k; j++ {
			if present[j] {
				continue
			}
			var acc uint32
			for t := 0; t < c.k; t++ {
				acc = c.f.add(acc, c.f.mul(inv[j][t], recvSlice[t]))
			}
			c.setSymbolAt(source[j], sym, acc)
		}
	}
	return source, nil
}

// invertMatrix inverts a square matrix over the field via Gauss-Jordan
// elimination with partial pivoting, returning ErrInsufficientSegments if
// the matrix is singular (should not happen for Cauchy-derived submatrices
// but guards against a caller misusing the codec with a non-Cauchy matrix).
func (f *field) invertMatrix(m [][]uint32) ([][]uint32, error) {
	n := len(m)
	aug := make([][]uint32, n)
	for i := range aug {
		row := make([]uint32, 2*n)
		copy(row, m[i])
		row[n+i] = 1
		aug[i] = row
	}
	for col := 0; col < n; col++ {
		pivot := -1
		for r := col; r < n; r++ {
			if aug[r][col] != 0 {
				pivot = r
				break
			}
		}
		if pivot == -1 {
			return nil, ErrInsufficientSegments
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]
		invPivot := f.inv(aug[col][col])
		for c := 0; c < 2*n; c++ {
			aug[col][c] = f.mul(aug[col][c], invPivot)
		}
		for r := 0; r < n; r++ {
			if r == col || aug[r][col] == 0 {
				continue
			}
			factor := aug[r][col]
			for c := 0; c < 2*n; c++ {
				aug[r][c] = f.add(aug[r][c], f.mul(factor, aug[col][c]))
			}
		}
	}
	inv := make([][]uint32, n)
	for i := range inv {
		inv[i] = append([]uint32(nil), aug[i][n:]...)
	}
	return inv, nil
}
