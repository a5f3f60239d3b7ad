package core

// NormalizeBarcode strips one trailing "-<digits>" suffix, the GEM-well or
// library index that sequencing pipelines append to cell barcodes. Anything
// else is returned unchanged.
func NormalizeBarcode(id string) string {
	i := len(id)
	for i > 0 && id[i-1] >= '0' && id[i-1] <= '9' {
		i--
	}
	if i == len(id) || i < 2 || id[i-1] != '-' {
		return id
	}
	return id[:i-1]
}
