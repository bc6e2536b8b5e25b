package muid_test

import (
	"testing"

	"github.com/aidarkhanov/nanoid/v2"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/stateforward/fsm.go/muid"
)

const nanoidAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Event and machine ids are minted on the simulation goroutine, so the
// interesting numbers are single threaded generation and string encoding.

func BenchmarkMUID(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_ = muid.Make()
	}
}

func BenchmarkMUIDString(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_ = muid.MakeString()
	}
}

func BenchmarkUUIDv4String(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_ = uuid.NewString()
	}
}

func BenchmarkULIDString(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_ = ulid.Make().String()
	}
}

func BenchmarkNanoIDString(b *testing.B) {
	b.ReportAllocs()
	for b.Loop() {
		_, _ = nanoid.GenerateString(nanoidAlphabet, 21)
	}
}

func BenchmarkMUIDParallel(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = muid.Make()
		}
	})
}

func BenchmarkUUIDv4Parallel(b *testing.B) {
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = uuid.New()
		}
	})
}
