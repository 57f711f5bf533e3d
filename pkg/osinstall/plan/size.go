package plan

import "strconv"

// size: 512M, 4G, 1T. Syntax is validated by the template validator.
func ToMiB(size string) int64 {
	multiplier := map[string]int64{
		"M": 1,
		"G": 1024,
		"T": 1024 * 1024,
	}
	val, _ := strconv.ParseInt(size[:len(size)-1], 10, 64)
	unit := size[len(size)-1:]
	return val * multiplier[unit]
}

func BytesToMiB(size int64) int64 {
	return size / (1 << 20)
}
