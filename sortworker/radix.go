// Package sortworker implements the asynchronous depth-sort service (spec
// §4.1): a back-to-front radix ordering of visible splats, run off the
// calling thread with coalesced re-entry.
package sortworker

import "fmt"

// OrderingGranularity is the fixed multiple an output buffer's capacity
// must satisfy.
const OrderingGranularity = 16384

// visibleBit marks a depth entry as passing the alpha/in-bounds test
// upstream of the sort; the low 31 bits are the sortable depth magnitude.
const visibleBit = uint32(1) << 31

// Sort32 sorts the first n entries of depth back-to-front (greatest depth
// first, ties broken by ascending splat index) into out, using the
// 32-bit radix path. It returns the number of entries that were marked
// visible and therefore placed into out[0:active]; the remainder of out is
// left unspecified.
func Sort32(n int, depth []uint32, out []int) (active int, err error) {
	if err := checkBuffers(n, len(depth), len(out)); err != nil {
		return 0, err
	}

	indices := make([]int, 0, n)
	keys := make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		d := depth[i]
		if d&visibleBit == 0 {
			continue
		}
		indices = append(indices, i)
		// Complementing the magnitude turns an ascending stable sort into a
		// descending one while keeping ties in original (ascending index)
		// order, with no final reversal needed.
		keys = append(keys, ^(d &^ visibleBit))
	}

	radixSort32(keys, indices)
	copy(out, indices)
	return len(indices), nil
}

// Sort16 is the legacy 16-bit depth-encoding variant.
func Sort16(n int, depth []uint16, out []int) (active int, err error) {
	if err := checkBuffers(n, len(depth), len(out)); err != nil {
		return 0, err
	}

	const visibleBit16 = uint16(1) << 15
	indices := make([]int, 0, n)
	keys := make([]uint16, 0, n)
	for i := 0; i < n; i++ {
		d := depth[i]
		if d&visibleBit16 == 0 {
			continue
		}
		indices = append(indices, i)
		keys = append(keys, ^(d &^ visibleBit16))
	}

	radixSort16(keys, indices)
	copy(out, indices)
	return len(indices), nil
}

func checkBuffers(n, depthLen, outLen int) error {
	if n > depthLen {
		return newError(InvalidBuffer, "sort", fmt.Errorf("active count %d exceeds depth buffer length %d", n, depthLen))
	}
	if outLen%OrderingGranularity != 0 {
		return newError(InvalidBuffer, "sort", fmt.Errorf("output capacity %d is not a multiple of %d", outLen, OrderingGranularity))
	}
	if outLen < n {
		return newError(InvalidBuffer, "sort", fmt.Errorf("output capacity %d smaller than active count %d", outLen, n))
	}
	return nil
}

// radixSort32 performs a 4-pass, 8-bit-per-pass LSD radix sort of keys,
// permuting indices in lock-step. LSD radix is inherently stable, which is
// what gives the ascending-index tie-break for equal depths.
func radixSort32(keys []uint32, indices []int) {
	n := len(keys)
	if n < 2 {
		return
	}
	tmpKeys := make([]uint32, n)
	tmpIdx := make([]int, n)

	src, srcIdx := keys, indices
	dst, dstIdx := tmpKeys, tmpIdx

	for shift := uint(0); shift < 32; shift += 8 {
		var count [257]int
		for _, k := range src {
			count[int(byte(k>>shift))+1]++
		}
		for i := 1; i < 257; i++ {
			count[i] += count[i-1]
		}
		for i, k := range src {
			b := byte(k >> shift)
			pos := count[b]
			count[b]++
			dst[pos] = k
			dstIdx[pos] = srcIdx[i]
		}
		src, dst = dst, src
		srcIdx, dstIdx = dstIdx, srcIdx
	}
	// After 4 passes (even number), src/srcIdx hold the final order in the
	// original backing arrays.
	copy(keys, src)
	copy(indices, srcIdx)
}

// radixSort16 is radixSort32's 2-pass counterpart for 16-bit keys.
func radixSort16(keys []uint16, indices []int) {
	n := len(keys)
	if n < 2 {
		return
	}
	tmpKeys := make([]uint16, n)
	tmpIdx := make([]int, n)

	src, srcIdx := keys, indices
	dst, dstIdx := tmpKeys, tmpIdx

	for shift := uint(0); shift < 16; shift += 8 {
		var count [257]int
		for _, k := range src {
			count[int(byte(k>>shift))+1]++
		}
		for i := 1; i < 257; i++ {
			count[i] += count[i-1]
		}
		for i, k := range src {
			b := byte(k >> shift)
			pos := count[b]
			count[b]++
			dst[pos] = k
			dstIdx[pos] = srcIdx[i]
		}
		src, dst = dst, src
		srcIdx, dstIdx = dstIdx, srcIdx
	}
	copy(keys, src)
	copy(indices, srcIdx)
}
