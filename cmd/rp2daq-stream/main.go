// Command rp2daq-stream opens a device, issues one asynchronous command,
// and prints every report that comes back until Ctrl-C.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/maruel/interrupt"

	"github.com/rp2daq/rp2daq-go/rp2daq"
)

func mainImpl() error {
	descRoot := flag.String("descriptor", "", "path to the firmware's root C source file")
	serial := flag.String("serial", "", "required device serial number (optional)")
	command := flag.String("command", "internal_adc", "command to invoke")
	flag.Parse()

	if *descRoot == "" {
		return fmt.Errorf("-descriptor is required")
	}

	interrupt.HandleCtrlC()

	r, err := rp2daq.Open(*descRoot, *serial)
	if err != nil {
		return err
	}
	defer r.Close()

	r.OnDisconnect(func(err error) {
		fmt.Fprintf(os.Stderr, "rp2daq-stream: %s\n", err)
		interrupt.Set()
	})

	args := map[string]int64{}
	for _, kv := range flag.Args() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("bad argument %q, want name=value", kv)
		}
		value, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return fmt.Errorf("bad argument %q, want name=value", kv)
		}
		args[parts[0]] = value
	}

	count := 0
	_, err = r.Invoke(*command, args, func(rep rp2daq.Report) {
		count++
		if rep.Err != nil {
			fmt.Printf("#%d opcode=%d %v payload error: %s\n", count, rep.Header.Opcode, rep.Header.Values, rep.Err)
		} else if len(rep.Data) != 0 {
			fmt.Printf("#%d opcode=%d %v samples=%d\n", count, rep.Header.Opcode, rep.Header.Values, len(rep.Data))
		} else {
			fmt.Printf("#%d opcode=%d %v\n", count, rep.Header.Opcode, rep.Header.Values)
		}
	})
	if err != nil {
		return err
	}

	for !interrupt.IsSet() {
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "rp2daq-stream: %s\n", err)
		os.Exit(1)
	}
}
