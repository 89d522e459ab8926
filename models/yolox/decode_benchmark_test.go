package yolox

import (
	"fmt"
	"math/rand"
	"testing"
)

// BenchmarkDecode measures proposal decoding for a 640x640 COCO model.
//
// @example
// go test -bench=BenchmarkDecode -benchmem ./models/yolox
func BenchmarkDecode(b *testing.B) {
	table, err := GenerateGrid(DefaultStrides, 640, 640)
	if err != nil {
		b.Fatal(err)
	}
	raw := randomRaw(rand.New(rand.NewSource(7)), len(table), 80)

	for _, workers := range []int{1, 4} {
		d := Decoder{ClassCount: 80, ConfidenceThreshold: 0.5, Workers: workers}
		b.Run(fmt.Sprintf("workers=%d", workers), func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				_, _ = d.Decode(raw, table)
			}
		})
	}
}

// BenchmarkGenerateGrid measures a grid table rebuild after a resolution change.
func BenchmarkGenerateGrid(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_, _ = GenerateGrid(DefaultStrides, 640, 640)
	}
}
