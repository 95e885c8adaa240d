package protocol

import "fmt"

// Result is a raw result code as returned by the kernel or a remote service.
// Zero is success; the low 9 bits hold the module and the next 13 bits the
// description.
type Result uint32

const (
	ModuleKernel   uint32 = 1
	ModuleHomebrew uint32 = 345
)

const (
	ResultSuccess Result = 0
	// ResultNotFound is the empty-response sentinel some TIPC services use to
	// signal absence.
	ResultNotFound Result = 0xFFFF
)

// Codes used when a parse failure has to cross an ABI boundary as a number.
var (
	ResultRegionTooSmall     = MakeResult(ModuleHomebrew, 1)
	ResultTruncated          = MakeResult(ModuleHomebrew, 2)
	ResultInvalidMagic       = MakeResult(ModuleHomebrew, 3)
	ResultTooManyDescriptors = MakeResult(ModuleHomebrew, 4)
	ResultUnknownTransport   = MakeResult(ModuleHomebrew, 10)
	ResultUnknown            = MakeResult(ModuleHomebrew, 11)
)

func MakeResult(module, description uint32) Result {
	return Result(module&0x1FF | (description&0x1FFF)<<9)
}

func (r Result) Module() uint32 {
	return uint32(r) & 0x1FF
}

func (r Result) Description() uint32 {
	return (uint32(r) >> 9) & 0x1FFF
}

func (r Result) IsSuccess() bool {
	return r == ResultSuccess
}

// String renders the code in the 2XXX-YYYY form used by system error reports.
func (r Result) String() string {
	return fmt.Sprintf("%04d-%04d", 2000+r.Module(), r.Description())
}
