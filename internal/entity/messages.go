package entity

// MerchantRequest asks the entity finder to resolve an unknown identification.
type MerchantRequest struct {
	Name           string `json:"name"`
	Identification string `json:"identification"`
}

// ProductCode is an unseen barcode read from a purchase line.
type ProductCode struct {
	Code   string `json:"code"`
	Format string `json:"format"`
}

var productCodeFormats = map[int]string{
	8:  "EAN_8",
	12: "UPC_A",
	13: "EAN_13",
	14: "GTIN_14",
}

// DetectProductCode returns the barcode carried by a purchase line key, or nil
// when the key is not an all-digit GTIN with a valid check digit.
func DetectProductCode(key string) *ProductCode {
	format, ok := productCodeFormats[len(key)]
	if !ok {
		return nil
	}
	sum := 0
	for i := 0; i < len(key)-1; i++ {
		c := key[i]
		if c < '0' || c > '9' {
			return nil
		}
		d := int(c - '0')
		// weights alternate 3,1 starting from the digit next to the check digit
		if (len(key)-1-i)%2 == 1 {
			d *= 3
		}
		sum += d
	}
	last := key[len(key)-1]
	if last < '0' || last > '9' {
		return nil
	}
	if (10-sum%10)%10 != int(last-'0') {
		return nil
	}
	return &ProductCode{Code: key, Format: format}
}
