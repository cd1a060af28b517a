package pkid

// Bitmap 按 packet id 记录占用情况，下标 0 不使用
type Bitmap struct {
	bits []uint64
}

func NewBitmap(max uint16) *Bitmap {
	return &Bitmap{bits: make([]uint64, int(max)/64+1)}
}

func (b *Bitmap) Get(i uint16) byte {
	if b.bits[i>>6]&(1<<(i&63)) != 0 {
		return 1
	}
	return 0
}

func (b *Bitmap) Set(i uint16, v byte) {
	if v == 0 {
		b.bits[i>>6] &^= 1 << (i & 63)
		return
	}
	b.bits[i>>6] |= 1 << (i & 63)
}
