package handlers

type noticeID int

const (
	noticeInternal noticeID = iota
	noticeExportFailed
	noticeCredentialRequired
	noticeUnsupportedFile
)

var notices = map[string]map[noticeID]string{
	"en": {
		noticeInternal:           "Something went wrong. Please try again.",
		noticeExportFailed:       "Failed to generate the ZIP archive.",
		noticeCredentialRequired: "Select a paid API key to use high-resolution enhancement.",
		noticeUnsupportedFile:    "Only image files can be added.",
	},
	"vi": {
		noticeInternal:           "Đã xảy ra lỗi. Vui lòng thử lại.",
		noticeExportFailed:       "Không thể tạo tệp ZIP.",
		noticeCredentialRequired: "Hãy chọn khóa API trả phí để dùng chế độ nâng cấp độ phân giải cao.",
		noticeUnsupportedFile:    "Chỉ có thể thêm tệp hình ảnh.",
	},
}

func notice(locale string, id noticeID) string {
	if msgs, ok := notices[locale]; ok {
		if msg, ok := msgs[id]; ok {
			return msg
		}
	}
	return notices["en"][id]
}
