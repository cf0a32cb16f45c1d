package session

import "time"

// commitStatsLocked rebuilds the public Stats snapshot from the
// session's authoritative fields and publishes it under statsMu. Must be
// called with mu held.
func (s *Session) commitStatsLocked(ratio, avgUploadKiBps, avgDownloadKiBps float64) {
	elapsed := s.cumulativeSeedTime

	sessionRatio := 0.0
	if s.sessionDownloaded > 0 {
		sessionRatio = float64(s.sessionUploaded) / float64(s.sessionDownloaded)
	} else {
		sessionRatio = float64(s.sessionUploaded)
	}

	uploadProgress, etaUploaded := s.uploadProgressAndETA(avgUploadKiBps)
	downloadProgress := s.downloadProgress()
	ratioProgress, etaRatio := s.ratioProgressAndETA(ratio, avgUploadKiBps)
	seedTimeProgress, etaSeedTime := s.seedTimeProgressAndETA(elapsed)

	snapshot := Stats{
		State: s.state,

		UploadedBytes:   s.cumulativeUploaded,
		DownloadedBytes: s.cumulativeDownloaded,
		LeftBytes:       s.cumulativeLeft,

		SessionUploadedBytes:   s.sessionUploaded,
		SessionDownloadedBytes: s.sessionDownloaded,
		ElapsedTime:            elapsed,

		CurrentUploadRateKiBps:   s.currentUploadRate,
		CurrentDownloadRateKiBps: s.currentDownloadRate,
		AverageUploadRateKiBps:   avgUploadKiBps,
		AverageDownloadRateKiBps: avgDownloadKiBps,

		Ratio:        ratio,
		SessionRatio: sessionRatio,

		UploadProgressPercent:   uploadProgress,
		DownloadProgressPercent: downloadProgress,
		RatioProgressPercent:    ratioProgress,
		SeedTimeProgressPercent: seedTimeProgress,

		EtaUploaded: etaUploaded,
		EtaRatio:    etaRatio,
		EtaSeedTime: etaSeedTime,

		UploadRateHistory:   append([]float64(nil), s.uploadRateHist...),
		DownloadRateHistory: append([]float64(nil), s.downloadRateHist...),
		RatioHistory:        append([]float64(nil), s.ratioHist...),

		Seeders:          s.seeders,
		Leechers:         s.leechers,
		LastAnnounce:     s.lastAnnounceAt,
		NextAnnounce:     s.nextAnnounceAt,
		AnnounceSequence: s.announceSeq,
	}

	s.statsMu.Lock()
	s.stats = snapshot
	s.statsMu.Unlock()
}

func clampPercent(v float64) float64 {
	if v > 100 {
		return 100
	}
	if v < 0 {
		return 0
	}
	return v
}

func (s *Session) uploadProgressAndETA(avgUploadKiBps float64) (float64, *time.Duration) {
	st := s.cfg.Stop
	if !st.StopAtUploadedBytesEnabled || st.StopAtUploadedBytes == 0 {
		return 0, nil
	}
	progress := clampPercent(float64(s.sessionUploaded) / float64(st.StopAtUploadedBytes) * 100)

	var eta *time.Duration
	if avgUploadKiBps > 0 {
		remaining := float64(0)
		if st.StopAtUploadedBytes > s.sessionUploaded {
			remaining = float64(st.StopAtUploadedBytes - s.sessionUploaded)
		}
		d := time.Duration((remaining / 1024 / avgUploadKiBps) * float64(time.Second))
		eta = &d
	}
	return progress, eta
}

func (s *Session) downloadProgress() float64 {
	st := s.cfg.Stop
	if !st.StopAtDownloadedBytesEnabled || st.StopAtDownloadedBytes == 0 {
		return 0
	}
	return clampPercent(float64(s.sessionDownloaded) / float64(st.StopAtDownloadedBytes) * 100)
}

func (s *Session) ratioProgressAndETA(ratio, avgUploadKiBps float64) (float64, *time.Duration) {
	st := s.cfg.Stop
	if !st.StopAtRatioEnabled || st.StopAtRatio == 0 {
		return 0, nil
	}
	progress := clampPercent(ratio / st.StopAtRatio * 100)

	var eta *time.Duration
	if avgUploadKiBps > 0 && s.meta.TotalSize > 0 {
		targetUploaded := st.StopAtRatio * float64(s.meta.TotalSize)
		remaining := targetUploaded - float64(s.cumulativeUploaded)
		if remaining < 0 {
			remaining = 0
		}
		d := time.Duration((remaining / 1024 / avgUploadKiBps) * float64(time.Second))
		eta = &d
	}
	return progress, eta
}

func (s *Session) seedTimeProgressAndETA(elapsed time.Duration) (float64, *time.Duration) {
	st := s.cfg.Stop
	if !st.StopAtSeedTimeSecsEnabled || st.StopAtSeedTimeSecs == 0 {
		return 0, nil
	}
	elapsedSecs := elapsed.Seconds()
	progress := clampPercent(elapsedSecs / float64(st.StopAtSeedTimeSecs) * 100)

	remaining := float64(st.StopAtSeedTimeSecs) - elapsedSecs
	if remaining < 0 {
		remaining = 0
	}
	d := time.Duration(remaining * float64(time.Second))
	return progress, &d
}
