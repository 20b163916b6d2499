package codec

// MIMEType returns the MIME type used in port definitions.
func (id ID) MIMEType() string {
	switch id {
	case IDAVC:
		return "video/avc"
	case IDHEVC:
		return "video/hevc"
	case IDAV1:
		return "video/av01"
	case IDMPEG4:
		return "video/mp4v-es"
	case IDMPEG2:
		return "video/mpeg2"
	case IDVP8:
		return "video/x-vnd.on2.vp8"
	case IDVP9:
		return "video/x-vnd.on2.vp9"
	case IDH263:
		return "video/3gpp"
	}
	return ""
}

// IANAMIMETypes returns the IANA-registered MIME types of the codec.
func (id ID) IANAMIMETypes() []string {
	switch id {
	case IDAVC:
		return []string{"video/H264"}
	case IDHEVC:
		return []string{"video/H265", "video/HEVC"}
	case IDAV1:
		return []string{"video/AV1"}
	case IDMPEG4:
		return []string{"video/mp4v-es"}
	case IDMPEG2:
		return []string{"video/mpeg"}
	case IDVP8:
		return []string{"video/VP8"}
	case IDVP9:
		return []string{"video/VP9"}
	case IDH263:
		return []string{"video/H263"}
	}
	return nil
}

// MIMERawVideo is the MIME type of the uncompressed side of a component.
const MIMERawVideo = "video/raw"
