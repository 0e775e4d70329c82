// Command rp2daq-identify finds an rp2daq device, prints its identity,
// and exits. It is the minimal smoke test for a new board: if this
// doesn't work, nothing else will.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/rp2daq/rp2daq-go/descriptor"
	"github.com/rp2daq/rp2daq-go/locate"
)

func mainImpl() error {
	descRoot := flag.String("descriptor", "", "path to the firmware's root C source file")
	serial := flag.String("serial", "", "required device serial number (optional)")
	flag.Parse()

	if *descRoot == "" {
		return fmt.Errorf("-descriptor is required")
	}
	cat, err := descriptor.Load(*descRoot)
	if err != nil {
		return err
	}
	path, err := locate.Find(cat.Version, *serial)
	if err != nil {
		return err
	}
	id, err := locate.Identify(path)
	if err != nil {
		return err
	}
	fmt.Printf("endpoint:  %s\n", path)
	fmt.Printf("version:   %d\n", id.Version)
	fmt.Printf("serial:    %s\n", id.SerialNumber)
	fmt.Printf("commands:  %d\n", len(cat.Commands))
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		log.Printf("rp2daq-identify: %s", err)
		os.Exit(1)
	}
}
