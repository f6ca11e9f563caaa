package fs

import "encoding/binary"

// Disk image builder: lays out [boot | inodes | data] for the flat
// format. The kernel never calls this; the mkfs tool and the hosted
// tests do.

type Imagefile_t struct {
	Name string
	Data []uint8
	// Capacity rounds the on-disk block allocation up; the extra
	// blocks are zero-filled. The file system bounds writes by the
	// blocks that cover the byte length, so blocks past those are not
	// written through it. Zero means len(Data).
	Capacity int
}

func MkImage(files []Imagefile_t) []uint8 {
	if len(files) > NDENTRY {
		panic("too many files")
	}
	type layout struct {
		nblocks int
	}
	lay := make([]layout, len(files))
	ndata := 0
	for i, f := range files {
		c := f.Capacity
		if c < len(f.Data) {
			c = len(f.Data)
		}
		lay[i].nblocks = (c + BLKSZ - 1) / BLKSZ
		ndata += lay[i].nblocks
	}
	ninodes := len(files)
	img := make([]uint8, (1+ninodes+ndata)*BLKSZ)

	// boot block
	binary.LittleEndian.PutUint32(img[0:], uint32(len(files)))
	binary.LittleEndian.PutUint32(img[4:], uint32(ninodes))
	binary.LittleEndian.PutUint32(img[8:], uint32(ndata))
	for i, f := range files {
		de := img[64+64*i:]
		if len(f.Name) >= NAMELEN {
			panic("name too long")
		}
		copy(de, f.Name)
		binary.LittleEndian.PutUint32(de[NAMELEN:], uint32(i))
	}

	// inodes and data
	nextblk := 0
	for i, f := range files {
		ino := img[(1+i)*BLKSZ:]
		binary.LittleEndian.PutUint32(ino[0:], uint32(len(f.Data)))
		for b := 0; b < lay[i].nblocks; b++ {
			binary.LittleEndian.PutUint32(ino[4+4*b:], uint32(nextblk))
			if off := b * BLKSZ; off < len(f.Data) {
				dst := img[(1+ninodes+nextblk)*BLKSZ:]
				src := f.Data[off:]
				if len(src) > BLKSZ {
					src = src[:BLKSZ]
				}
				copy(dst, src)
			}
			nextblk++
		}
	}
	return img
}
