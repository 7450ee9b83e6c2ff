// Command buddy-demo exercises the allocator end to end: construct a
// small region, allocate and free a handful of blocks, and print the
// addresses returned.
package main

import (
	"flag"
	"fmt"
	"log"

	buddy "github.com/pskrgag/lock-free-buddy-allocator"
)

func main() {
	height := flag.Uint("height", 4, "tree height H (region holds 2^H pages)")
	pageSize := flag.Uint64("page-size", 4096, "page size in bytes")
	base := flag.Uint64("base", 0, "region base address")
	order := flag.Uint("order", 1, "block order to demo (2^order pages)")
	count := flag.Uint("count", 4, "number of blocks to allocate")
	flag.Parse()

	a, err := buddy.Construct(*base, uint8(*height), *pageSize, nil, nil, nil)
	if err != nil {
		log.Fatalf("construct: %v", err)
	}
	defer a.Close()

	addrs := make([]uint64, 0, *count)
	for i := uint(0); i < *count; i++ {
		addr, err := a.Alloc(uint8(*order))
		if err != nil {
			fmt.Printf("alloc #%d: %v\n", i, err)
			break
		}
		fmt.Printf("alloc #%d: addr=%#x\n", i, addr)
		addrs = append(addrs, addr)
	}

	for i, addr := range addrs {
		if err := a.Free(addr, uint8(*order)); err != nil {
			fmt.Printf("free #%d: %v\n", i, err)
		}
	}
}
