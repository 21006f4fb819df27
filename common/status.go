package common

//go:generate go run github.com/dmarkham/enumer -json -type Status -trimprefix Status

// Status is the outcome of a download run
type Status int

const (
	StatusDONE     Status = iota // All the requested products have been downloaded
	StatusNORESULT               // The scene search returned nothing
	StatusPARTIAL                // Some products failed on the server side
	StatusTIMEOUT                // The products were still being prepared when the polling stopped
	StatusFAILED
)
