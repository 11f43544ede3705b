package sqlinline

// All returns every statement keyed by constant name.
func All() map[string]string {
	return map[string]string{
		"QCreateSchema":           QCreateSchema,
		"QInsertImage":            QInsertImage,
		"QListImagesByJob":        QListImagesByJob,
		"QResetStuckImages":       QResetStuckImages,
		"QClaimImages":            QClaimImages,
		"QMarkImageCompleted":     QMarkImageCompleted,
		"QMarkImageRetry":         QMarkImageRetry,
		"QMarkImageFailed":        QMarkImageFailed,
		"QTallyImages":            QTallyImages,
		"QFailPendingImages":      QFailPendingImages,
		"QResetFailedImages":      QResetFailedImages,
		"QDeleteImagesByJob":      QDeleteImagesByJob,
		"QInsertJob":              QInsertJob,
		"QSelectJob":              QSelectJob,
		"QListProcessingJobs":     QListProcessingJobs,
		"QListJobsCreatedBefore":  QListJobsCreatedBefore,
		"QIncrementJobTotal":      QIncrementJobTotal,
		"QIncrementJobCompleted":  QIncrementJobCompleted,
		"QIncrementJobFailed":     QIncrementJobFailed,
		"QStartJob":               QStartJob,
		"QCancelJob":              QCancelJob,
		"QFinalizeJob":            QFinalizeJob,
		"QReopenJob":              QReopenJob,
		"QDeleteJob":              QDeleteJob,
		"QSelectIntegrationToken": QSelectIntegrationToken,
		"QUpsertIntegrationToken": QUpsertIntegrationToken,
	}
}
