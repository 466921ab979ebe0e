// Package worker runs the scheduled mailbox processing pipeline.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relay_server/core/domain"
	"relay_server/core/port/out"
	"relay_server/core/service/command"
	"relay_server/core/service/detect"
	"relay_server/core/service/learning"
	"relay_server/pkg/logger"
)

// Processor executes one full processing run: fetch, dedup, classify,
// forward, persist.
type Processor struct {
	emails      out.EmailRecordRepository
	runs        out.RunRepository
	source      out.MailSource
	sink        out.MailSink
	cipher      out.ContentCipher
	detector    *detect.Detector
	categorizer *detect.Categorizer
	commands    *command.Service
	learner     *learning.Service

	accounts     []domain.Account
	targetEmail  string
	lookbackDays int
	pollInterval time.Duration
	log          *logger.Logger
}

// ProcessorConfig carries the non-service settings of a Processor.
type ProcessorConfig struct {
	Accounts     []domain.Account
	TargetEmail  string
	LookbackDays int
	PollInterval time.Duration
}

func NewProcessor(
	emails out.EmailRecordRepository,
	runs out.RunRepository,
	source out.MailSource,
	sink out.MailSink,
	cipher out.ContentCipher,
	detector *detect.Detector,
	categorizer *detect.Categorizer,
	commands *command.Service,
	learner *learning.Service,
	cfg ProcessorConfig,
) *Processor {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 3
	}
	return &Processor{
		emails:       emails,
		runs:         runs,
		source:       source,
		sink:         sink,
		cipher:       cipher,
		detector:     detector,
		categorizer:  categorizer,
		commands:     commands,
		learner:      learner,
		accounts:     cfg.Accounts,
		targetEmail:  cfg.TargetEmail,
		lookbackDays: cfg.LookbackDays,
		pollInterval: cfg.PollInterval,
		log:          logger.WithField("component", "processor"),
	}
}

// ProcessRun executes one scheduled pass. The run row doubles as the
// overlap guard: when a recent run is still marked running, this run is
// recorded as skipped and returns immediately.
func (p *Processor) ProcessRun(ctx context.Context) (*domain.ProcessingRun, error) {
	if p.targetEmail == "" {
		return nil, fmt.Errorf("no forwarding target configured")
	}

	run, conflict, err := p.runs.Begin(ctx, int(p.pollInterval/time.Minute))
	if err != nil {
		return nil, fmt.Errorf("failed to begin run: %w", err)
	}
	if conflict != nil {
		p.log.WithFields(map[string]any{
			"run_id":      run.ID,
			"blocking_id": conflict.ID,
		}).Warn("Previous run still in progress, skipping")
		return run, nil
	}

	p.log.WithField("run_id", run.ID).Info("Processing run started")
	start := time.Now()

	var failures []string
	since := time.Now().AddDate(0, 0, -p.lookbackDays)

	for _, account := range p.accounts {
		fetched, err := p.source.FetchRecent(ctx, account, since)
		if err != nil {
			p.log.WithError(err).WithField("account", logger.Mask(account.Email)).
				Error("Account fetch failed")
			failures = append(failures,
				fmt.Sprintf("%s: %v", logger.Mask(account.Email), err))
			continue
		}

		for _, email := range fetched {
			run.EmailsChecked++
			forwarded, processed, err := p.processEmail(ctx, email)
			if err != nil {
				failures = append(failures,
					fmt.Sprintf("%s: %v", logger.Mask(email.Sender), err))
			}
			if processed {
				run.EmailsProcessed++
			}
			if forwarded {
				run.EmailsForwarded++
			}
		}
	}

	if p.learner != nil {
		if promoted, err := p.learner.AutoPromoteRules(ctx); err != nil {
			p.log.WithError(err).Warn("Auto-promotion failed")
		} else if promoted > 0 {
			p.log.WithField("promoted", promoted).Info("Shadow rules promoted")
		}
	}

	run.Status = domain.RunCompleted
	if len(failures) > 0 {
		run.Status = domain.RunError
		run.ErrorMessage = strings.Join(failures, "; ")
	}
	if err := p.runs.Finish(ctx, run); err != nil {
		return run, fmt.Errorf("failed to finish run %d: %w", run.ID, err)
	}

	p.log.WithDuration(time.Since(start)).WithFields(map[string]any{
		"run_id":    run.ID,
		"checked":   run.EmailsChecked,
		"processed": run.EmailsProcessed,
		"forwarded": run.EmailsForwarded,
	}).Info("Processing run finished")
	return run, nil
}

// processEmail handles one fetched email end to end. Returns whether it
// was forwarded, whether a new record was written, and any failure that
// should flag the run.
func (p *Processor) processEmail(ctx context.Context, email *domain.Email) (forwarded, processed bool, failure error) {
	contentHash := email.ContentHash()

	exists, err := p.emails.Exists(ctx, email.MessageID, contentHash)
	if err != nil {
		p.log.WithError(err).Warn("Dedup check failed, skipping email")
		return false, false, fmt.Errorf("dedup check failed: %w", err)
	}
	if exists {
		return false, false, nil
	}

	// Command replies from the forwarding target short-circuit detection.
	if p.commands != nil && p.commands.IsCommand(email) {
		message, err := p.commands.Execute(ctx, email)
		if err != nil {
			p.log.WithError(err).Warn("Command execution failed")
			return false, false, fmt.Errorf("command execution failed: %w", err)
		}
		return false, true, p.persistRecord(ctx, email, contentHash, domain.StatusCommandExecuted, message, "command", false)
	}

	decision := p.detector.Classify(ctx, email)

	category := ""
	if decision.IsReceipt && p.categorizer != nil {
		category = p.categorizer.Predict(ctx, email)
	}

	// Shadow rules observe every email without affecting the outcome.
	if p.learner != nil {
		if err := p.learner.RunShadowMode(ctx, email); err != nil {
			p.log.WithError(err).Debug("Shadow evaluation failed")
		}
	}

	if !decision.IsReceipt {
		status := domain.StatusIgnored
		if decision.MatchedBy == "Blocked Preference" {
			status = domain.StatusBlocked
		}
		return false, true, p.persistRecord(ctx, email, contentHash, status, decision.Reason, category, true)
	}

	if err := p.sink.Forward(ctx, email, p.targetEmail); err != nil {
		p.log.WithError(err).WithField("sender", logger.Mask(email.Sender)).
			Error("Forward failed")
		p.persistRecord(ctx, email, contentHash, domain.StatusError,
			fmt.Sprintf("Forward failed: %v", err), category, true)
		return false, true, fmt.Errorf("forward failed: %w", err)
	}

	return true, true, p.persistRecord(ctx, email, contentHash, domain.StatusForwarded, decision.Reason, category, true)
}

// persistRecord writes the processing outcome. Content is encrypted at
// rest and expires after the retention window.
func (p *Processor) persistRecord(
	ctx context.Context,
	email *domain.Email,
	contentHash string,
	status domain.EmailStatus,
	reason, category string,
	keepContent bool,
) error {
	record := &domain.EmailRecord{
		EmailID:      email.MessageID,
		ContentHash:  contentHash,
		AccountEmail: email.AccountEmail,
		Sender:       email.Sender,
		Subject:      email.Subject,
		Category:     category,
		Status:       status,
		Reason:       reason,
		ReceivedAt:   email.ReceivedAt,
	}
	if amount, ok := email.ParseAmount(); ok {
		record.Amount = &amount
	}

	if keepContent && p.cipher != nil {
		if email.Body != "" {
			if enc, err := p.cipher.Encrypt(email.Body); err == nil {
				record.EncryptedBody = &enc
			} else {
				p.log.WithError(err).Warn("Body encryption failed, storing without content")
			}
		}
		if email.HTMLBody != "" {
			if enc, err := p.cipher.Encrypt(email.HTMLBody); err == nil {
				record.EncryptedHTML = &enc
			}
		}
		if record.EncryptedBody != nil || record.EncryptedHTML != nil {
			expires := time.Now().Add(domain.RetentionWindow)
			record.RetentionExpiresAt = &expires
		}
	}

	if err := p.emails.Create(ctx, record); err != nil {
		p.log.WithError(err).WithField("email_id", email.MessageID).
			Error("Failed to persist email record")
		return fmt.Errorf("persist record failed: %w", err)
	}
	return nil
}

// CleanupRetention nulls encrypted content on records past their
// retention window.
func (p *Processor) CleanupRetention(ctx context.Context) error {
	purged, err := p.emails.PurgeExpiredContent(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("failed to purge expired content: %w", err)
	}
	if purged > 0 {
		p.log.WithField("purged", purged).Info("Expired email content purged")
	}
	return nil
}
