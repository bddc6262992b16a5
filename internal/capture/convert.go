package capture

// bgraToRGB converts BGRA rows (as read from a mapped DXGI staging texture)
// into packed RGB, dropping alpha. stride is the source row pitch in bytes and
// may exceed width*4.
func bgraToRGB(dst, src []byte, width, height, stride int) bool {
	if len(dst) < width*height*3 || len(src) < (height-1)*stride+width*4 {
		return false
	}
	for y := 0; y < height; y++ {
		row := src[y*stride : y*stride+width*4]
		out := dst[y*width*3 : (y+1)*width*3]
		for x, o := 0, 0; x < width*4; x, o = x+4, o+3 {
			out[o] = row[x+2]
			out[o+1] = row[x+1]
			out[o+2] = row[x]
		}
	}
	return true
}

// bgrToRGB converts 24-bit DIB rows into packed RGB. DIB rows are padded to a
// 4-byte boundary; see dibStride.
func bgrToRGB(dst, src []byte, width, height int) bool {
	stride := dibStride(width)
	if len(dst) < width*height*3 || len(src) < (height-1)*stride+width*3 {
		return false
	}
	for y := 0; y < height; y++ {
		row := src[y*stride : y*stride+width*3]
		out := dst[y*width*3 : (y+1)*width*3]
		for x := 0; x < width*3; x += 3 {
			out[x] = row[x+2]
			out[x+1] = row[x+1]
			out[x+2] = row[x]
		}
	}
	return true
}

// dibStride is the row size of a 24-bit DIB of the given width.
func dibStride(width int) int {
	return (width*3 + 3) &^ 3
}
