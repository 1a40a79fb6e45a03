package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrPermissionDenied  ErrCode = "PERMISSION_DENIED"
	ErrStudentAccessOnly ErrCode = "STUDENT_ACCESS_ONLY"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrInvalidOption  ErrCode = "INVALID_OPTION"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound        ErrCode = "NOT_FOUND"
	ErrSessionNotFound ErrCode = "SESSION_NOT_FOUND"

	// ─── Exam access ───────────────────────────────────────────────────
	ErrExamNotAvailable   ErrCode = "EXAM_NOT_AVAILABLE"
	ErrNotRegistered      ErrCode = "NOT_REGISTERED"
	ErrPaymentRequired    ErrCode = "PAYMENT_REQUIRED"
	ErrAccessCodeMismatch ErrCode = "ACCESS_CODE_MISMATCH"

	// ─── Session lifecycle ─────────────────────────────────────────────
	ErrInvalidPhase     ErrCode = "INVALID_PHASE"
	ErrSessionFinished  ErrCode = "SESSION_FINISHED"
	ErrSessionAbandoned ErrCode = "SESSION_ABANDONED"
	ErrQuestionIndex    ErrCode = "QUESTION_INDEX_OUT_OF_RANGE"
	ErrReportInFlight   ErrCode = "REPORT_IN_FLIGHT"
	ErrReportFailed     ErrCode = "REPORT_FAILED"
	ErrNotRetakeable    ErrCode = "NOT_RETAKEABLE"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Token autentikasi diperlukan."
	case ErrTokenInvalid:
		return "Token autentikasi tidak valid."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "Anda tidak memiliki izin untuk mengakses sumber daya ini."
	case ErrPermissionDenied:
		return "Izin ditolak."
	case ErrStudentAccessOnly:
		return "Sumber daya ini terbatas untuk siswa."
	case ErrAdminAccessOnly:
		return "Sumber daya ini terbatas untuk administrator."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validasi gagal. Silakan periksa masukan Anda."
	case ErrInvalidID:
		return "Format ID tidak valid."
	case ErrInvalidPayload:
		return "Payload permintaan tidak valid."
	case ErrInvalidOption:
		return "Pilihan jawaban tidak tersedia untuk soal ini."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Sumber daya tidak ditemukan."
	case ErrSessionNotFound:
		return "Sesi ujian tidak ditemukan atau sudah berakhir."

	// ─── Exam access ───────────────────────────────────────────────────
	case ErrExamNotAvailable:
		return "Ujian ini saat ini tidak tersedia."
	case ErrNotRegistered:
		return "Anda belum terdaftar pada ujian ini."
	case ErrPaymentRequired:
		return "Pembayaran ujian ini belum selesai."
	case ErrAccessCodeMismatch:
		return "Kode akses ujian salah."

	// ─── Session lifecycle ─────────────────────────────────────────────
	case ErrInvalidPhase:
		return "Tindakan ini tidak dapat dilakukan pada tahap sesi saat ini."
	case ErrSessionFinished:
		return "Ujian sudah selesai. Jawaban tidak dapat diubah."
	case ErrSessionAbandoned:
		return "Sesi ujian ini telah ditinggalkan."
	case ErrQuestionIndex:
		return "Nomor soal di luar jangkauan."
	case ErrReportInFlight:
		return "Hasil ujian sedang dikirim. Silakan tunggu."
	case ErrReportFailed:
		return "Hasil ujian gagal dikirim. Silakan coba kirim ulang."
	case ErrNotRetakeable:
		return "Ujian hanya dapat diulang setelah sesi selesai."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Terlalu banyak permintaan. Silakan coba lagi nanti."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Terjadi kesalahan server internal."
	default:
		return "Terjadi kesalahan yang tidak terduga."
	}
}
