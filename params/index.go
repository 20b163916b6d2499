// index.go defines the parameter/config index space.

// Package params defines the index space of GetParameter/SetParameter/
// GetConfig/SetConfig, the vendor extension registry, and the structures
// passed through those calls.
package params

import (
	"fmt"
)

type Index uint32

const (
	IndexUndefined = Index(0)

	IndexParamStandardComponentRole    = Index(0x01000017)
	IndexParamPortDefinition           = Index(0x02000001)
	IndexParamVideoPortFormat          = Index(0x06000001)
	IndexParamVideoBitrate             = Index(0x06000004)
	IndexParamVideoProfileLevelCurrent = Index(0x06000014)

	IndexConfigVideoBitrate     = Index(0x06000017)
	IndexConfigVideoFramerate   = Index(0x06000018)
	IndexConfigCommonOutputCrop = Index(0x0700001D)

	// IndexVendorStartUnused is the first index handed out to vendor
	// extensions by GetExtensionIndex.
	IndexVendorStartUnused = Index(0x7F000000)
)

func (idx Index) String() string {
	switch idx {
	case IndexUndefined:
		return "<undefined>"
	case IndexParamStandardComponentRole:
		return "ParamStandardComponentRole"
	case IndexParamPortDefinition:
		return "ParamPortDefinition"
	case IndexParamVideoPortFormat:
		return "ParamVideoPortFormat"
	case IndexParamVideoBitrate:
		return "ParamVideoBitrate"
	case IndexParamVideoProfileLevelCurrent:
		return "ParamVideoProfileLevelCurrent"
	case IndexConfigVideoBitrate:
		return "ConfigVideoBitrate"
	case IndexConfigVideoFramerate:
		return "ConfigVideoFramerate"
	case IndexConfigCommonOutputCrop:
		return "ConfigCommonOutputCrop"
	}
	if idx >= IndexVendorStartUnused {
		return fmt.Sprintf("Vendor(0x%08X)", uint32(idx))
	}
	return fmt.Sprintf("Index(0x%08X)", uint32(idx))
}

func (idx Index) IsVendor() bool {
	return idx >= IndexVendorStartUnused
}
