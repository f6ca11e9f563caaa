package main

import "fmt"
import "os"
import "strconv"
import "strings"

import "osprey/fs"

// mkfs builds a flat file-system image from host files:
//
//	mkfs out.img file[:capacity]...
//
// A file lands in the image under its base name; an optional
// :capacity (bytes) rounds its block allocation up. The kernel writes
// only into the blocks that cover the file's byte length, so capacity
// past those blocks is reserved space it does not reach.
func main() {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "usage: %s out.img file[:capacity]...\n", os.Args[0])
		os.Exit(1)
	}
	var files []fs.Imagefile_t
	for _, arg := range os.Args[2:] {
		path := arg
		capacity := 0
		if i := strings.LastIndex(arg, ":"); i > 0 {
			var err error
			capacity, err = strconv.Atoi(arg[i+1:])
			if err != nil {
				fmt.Fprintf(os.Stderr, "bad capacity in %q\n", arg)
				os.Exit(1)
			}
			path = arg[:i]
		}
		data, err := os.ReadFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
		name := path
		if i := strings.LastIndex(path, "/"); i >= 0 {
			name = path[i+1:]
		}
		files = append(files, fs.Imagefile_t{Name: name, Data: data, Capacity: capacity})
	}
	img := fs.MkImage(files)
	if err := os.WriteFile(os.Args[1], img, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s: %d files, %d bytes\n", os.Args[1], len(files), len(img))
}
