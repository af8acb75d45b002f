package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/arnoldhuanghk/horovod/pkg/protocol"
	"github.com/arnoldhuanghk/horovod/pkg/protocol/codec"
)

func main() {
	outDir := flag.String("out", "testdata/frame", "output directory for binary frames")
	flag.Parse()
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal(err)
	}

	reg := codec.NewRegistry()
	cb, err := codec.CBOR()
	if err != nil {
		log.Fatal(err)
	}
	reg.Register(cb)

	// 1) A request batch the way a rank would submit it
	batch := protocol.RequestList{
		Requests: []protocol.Request{
			{
				RequestRank: 1,
				Type:        protocol.RequestAllreduce,
				TensorType:  protocol.TypeFloat32,
				Device:      -1,
				TensorName:  "grad/dense.0",
				TensorShape: []int64{64, 128},
			},
			{
				RequestRank: 1,
				Type:        protocol.RequestBroadcast,
				TensorType:  protocol.TypeInt64,
				RootRank:    0,
				Device:      -1,
				TensorName:  "global_step",
			},
		},
	}
	env, err := protocol.NewEnvelope(protocol.MsgRequestList, 1, 7, &batch)
	if err != nil {
		log.Fatal(err)
	}
	writeOut(*outDir, "request_batch.bin", mustFrame(&env))

	// 2) The matching coordinator answer
	resp := protocol.ResponseList{
		Responses: []protocol.Response{
			{
				Type:        protocol.ResponseAllreduce,
				TensorNames: []string{"grad/dense.0"},
				Devices:     []int32{-1, -1},
			},
			{
				Type:        protocol.ResponseBroadcast,
				TensorNames: []string{"global_step"},
				Devices:     []int32{-1, -1},
			},
		},
	}
	renv, err := protocol.NewEnvelope(protocol.MsgResponseList, 0, 7, &resp)
	if err != nil {
		log.Fatal(err)
	}
	writeOut(*outDir, "response_batch.bin", mustFrame(&renv))

	// 3) Shutdown-vote round
	done := protocol.RequestList{Shutdown: true}
	denv, err := protocol.NewEnvelope(protocol.MsgRequestList, 1, 8, &done)
	if err != nil {
		log.Fatal(err)
	}
	writeOut(*outDir, "request_shutdown.bin", mustFrame(&denv))

	// Debug renderings of the same batch for inspection
	for _, ct := range []string{"application/json", "application/cbor"} {
		c := reg.Get(ct)
		b, err := c.Marshal(batch)
		if err != nil {
			log.Fatal(err)
		}
		ext := ct[strings.LastIndex(ct, "/")+1:]
		writeOut(*outDir, "request_batch."+ext, b)
	}

	fmt.Println("Generated negotiation frames in", *outDir)
}

func mustFrame(e *protocol.Envelope) []byte {
	b, err := e.EncodeFrame()
	if err != nil {
		log.Fatal(err)
	}
	return b
}

func writeOut(dir, name string, b []byte) {
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, b, 0o644); err != nil {
		log.Fatal(err)
	}
	fmt.Printf("%-24s %5d bytes  head: %s\n", name, len(b), shortHex(b, 48))
}

func shortHex(b []byte, n int) string {
	if len(b) == 0 {
		return ""
	}
	if n > len(b) {
		n = len(b)
	}
	enc := hex.EncodeToString(b[:n])
	var out []string
	for i := 0; i < len(enc); i += 4 {
		j := i + 4
		if j > len(enc) {
			j = len(enc)
		}
		out = append(out, enc[i:j])
	}
	return strings.Join(out, " ")
}
