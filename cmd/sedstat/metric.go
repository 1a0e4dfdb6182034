// Copyright (c) 2021 by library authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

type metricCollector struct {
	m []prometheus.Metric
}

func (mc *metricCollector) Collect(c chan<- prometheus.Metric) {
	for _, m := range mc.m {
		c <- m
	}
}

func (mc *metricCollector) Describe(c chan<- *prometheus.Desc) {
}

func outputMetrics(state Devices) {
	var (
		mDriveInfo = prometheus.NewDesc(
			"sed_drive_info",
			"Info metric regarding the detected drives",
			[]string{"device", "model", "serial", "firmware", "protocol"}, nil,
		)
		mTCGSupported = prometheus.NewDesc(
			"sed_tcg_supported",
			"Boolean describing whether a drive answers Level 0 discovery",
			[]string{"device"}, nil,
		)
		mOpal2Supported = prometheus.NewDesc(
			"sed_opal2_supported",
			"Boolean describing whether the drive supports the Opal 2 SSC",
			[]string{"device"}, nil,
		)
		mLockingEnabled = prometheus.NewDesc(
			"sed_locking_enabled",
			"Boolean describing whether the drive is reporting range locking has been enabled",
			[]string{"device"}, nil,
		)
		mLocked = prometheus.NewDesc(
			"sed_locked",
			"Boolean describing whether any locking range currently holds a lock",
			[]string{"device"}, nil,
		)
		mMBRActive = prometheus.NewDesc(
			"sed_shadow_mbr_active",
			"Boolean describing whether the shadow MBR is enabled and not yet marked done",
			[]string{"device"}, nil,
		)
		mSIDAuthBlocked = prometheus.NewDesc(
			"sed_sid_authentication_blocked",
			"Boolean describing if the Block SID feature has made authentication to the drive currently impossible",
			[]string{"device"}, nil,
		)
		mDefaultSIDPIN = prometheus.NewDesc(
			"sed_default_sid_pin_detected",
			"Boolean describing if the Block SID feature reports the default SID PIN is in use",
			[]string{"device"}, nil,
		)
	)
	mc := &metricCollector{}
	b2f := func(b bool) float64 {
		if b {
			return 1
		}
		return 0
	}
	for _, s := range state {
		mc.m = append(mc.m,
			prometheus.MustNewConstMetric(mDriveInfo, prometheus.GaugeValue, 1,
				s.Device, s.Identity.Model, s.Identity.SerialNumber, s.Identity.Firmware, s.Identity.Protocol))
		mc.m = append(mc.m, prometheus.MustNewConstMetric(mTCGSupported, prometheus.GaugeValue,
			b2f(s.Level0 != nil), s.Device))

		// This is how far we can make it without a successful Level0 discovery
		if s.Level0 == nil {
			continue
		}

		mc.m = append(mc.m, prometheus.MustNewConstMetric(mOpal2Supported, prometheus.GaugeValue,
			b2f(s.Level0.OpalV2 != nil), s.Device))

		if l := s.Level0.Locking; l != nil {
			mc.m = append(mc.m, prometheus.MustNewConstMetric(mLockingEnabled, prometheus.GaugeValue,
				b2f(l.LockingEnabled), s.Device))
			mc.m = append(mc.m, prometheus.MustNewConstMetric(mLocked, prometheus.GaugeValue,
				b2f(l.Locked), s.Device))
			mc.m = append(mc.m, prometheus.MustNewConstMetric(mMBRActive, prometheus.GaugeValue,
				b2f(l.MBREnabled && !l.MBRDone), s.Device))
		}

		if b := s.Level0.BlockSID; b != nil {
			// Metrics only visible if Block SID feature is supported
			mc.m = append(mc.m, prometheus.MustNewConstMetric(mSIDAuthBlocked, prometheus.GaugeValue,
				b2f(b.SIDAuthenticationBlockedState), s.Device))
			mc.m = append(mc.m, prometheus.MustNewConstMetric(mDefaultSIDPIN, prometheus.GaugeValue,
				b2f(!b.SIDValueState), s.Device))
		}
	}

	reg := prometheus.NewPedanticRegistry()
	reg.MustRegister(mc)

	mfs, err := reg.Gather()
	if err != nil {
		log.Fatalf("Failed to gather metrics: %v", err)
	}
	for _, mf := range mfs {
		if _, err := expfmt.MetricFamilyToText(os.Stdout, mf); err != nil {
			log.Fatalf("Failed to serialize metrics: %v", err)
		}
	}
}
