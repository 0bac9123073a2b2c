package simulator

import "fmt"

// Serials generates size serial numbers prefix0001..prefixNNNN.
func Serials(prefix string, size int) []string {
	if size <= 0 {
		return nil
	}
	out := make([]string, size)
	for i := range out {
		out[i] = fmt.Sprintf("%s%04d", prefix, i+1)
	}
	return out
}
