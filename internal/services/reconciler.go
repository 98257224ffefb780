package services

import (
	"context"
	"fmt"
	"log"
	"path"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/fairwaygolf/assetsync/internal/models"
	"github.com/fairwaygolf/assetsync/pkg/validation"
	"gorm.io/gorm"
)

// ReconcileOptions controls one reconciliation pass.
type ReconcileOptions struct {
	MaxDepth     int
	Deadline     time.Time
	DryRun       bool
	DeleteGhosts bool
	Actor        string
}

// ItemError is a per-record or per-object failure that did not stop the run.
type ItemError struct {
	Path     string `json:"path"`
	RecordID string `json:"record_id,omitempty"`
	Op       string `json:"op"`
	Error    string `json:"error"`
}

// Report summarises a reconciliation pass. In dry-run mode the counters
// describe the planned changes and Writes stays zero.
type Report struct {
	Root              string        `json:"root"`
	DryRun            bool          `json:"dry_run"`
	Partial           bool          `json:"partial"`
	Scanned           int           `json:"scanned"`
	Created           int           `json:"created"`
	Updated           int           `json:"updated"`
	Unchanged         int           `json:"unchanged"`
	Repaired          int           `json:"repaired"`
	DuplicatesRemoved int           `json:"duplicates_removed"`
	Ghosts            int           `json:"ghosts"`
	GhostsDeleted     int           `json:"ghosts_deleted"`
	Writes            int           `json:"writes"`
	Errors            []ItemError   `json:"errors,omitempty"`
	ListErrors        []ListError   `json:"list_errors,omitempty"`
	Elapsed           time.Duration `json:"elapsed"`
}

// Add accumulates the counters of other into r.
func (r *Report) Add(other *Report) {
	r.Partial = r.Partial || other.Partial
	r.Scanned += other.Scanned
	r.Created += other.Created
	r.Updated += other.Updated
	r.Unchanged += other.Unchanged
	r.Repaired += other.Repaired
	r.DuplicatesRemoved += other.DuplicatesRemoved
	r.Ghosts += other.Ghosts
	r.GhostsDeleted += other.GhostsDeleted
	r.Writes += other.Writes
	r.Errors = append(r.Errors, other.Errors...)
	r.ListErrors = append(r.ListErrors, other.ListErrors...)
}

func (r *Report) fail(p string, rec *models.ImageMetadata, op string, err error) {
	id := ""
	if rec != nil {
		id = rec.ID.String()
	}
	log.Printf("Reconcile: %s %q (record %s) failed: %v", op, p, id, err)
	r.Errors = append(r.Errors, ItemError{Path: p, RecordID: id, Op: op, Error: err.Error()})
}

type Reconciler struct {
	db         *gorm.DB
	store      ObjectStore
	lister     *Lister
	classifier *Classifier
	audit      *AuditService
	now        func() time.Time
}

func NewReconciler(db *gorm.DB, store ObjectStore, lister *Lister, classifier *Classifier, audit *AuditService) *Reconciler {
	if audit == nil {
		audit = NewAuditService(db)
	}
	return &Reconciler{
		db:         db,
		store:      store,
		lister:     lister,
		classifier: classifier,
		audit:      audit,
		now:        time.Now,
	}
}

// MergeDuplicates picks the row with the latest CreatedAt as keeper (ties go
// to the larger id) and folds the tags of the other rows into it. The keeper
// is modified in place; losers are returned for deletion.
func MergeDuplicates(rows []*models.ImageMetadata) (*models.ImageMetadata, []*models.ImageMetadata) {
	if len(rows) == 0 {
		return nil, nil
	}
	sorted := slices.Clone(rows)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID.String() > b.ID.String()
	})
	keeper, losers := sorted[0], sorted[1:]
	if len(losers) == 0 {
		return keeper, nil
	}
	extra := make([][]string, 0, len(losers))
	for _, l := range losers {
		extra = append(extra, l.AITags)
	}
	keeper.AITags = UnionTags(keeper.AITags, extra...)
	return keeper, losers
}

// recordState is the comparable part of a row, used to skip no-op writes.
type recordState struct {
	filename, filePath, cdnURL, imageType, folderKey, contentType string
	size                                                          int64
	tags                                                          string
}

func stateOf(rec *models.ImageMetadata) recordState {
	return recordState{
		filename:    rec.Filename,
		filePath:    rec.FilePath,
		cdnURL:      rec.CDNURLValue(),
		imageType:   rec.ImageType,
		folderKey:   rec.FolderKey,
		contentType: rec.ContentType,
		size:        rec.SizeBytes,
		tags:        strings.Join(rec.AITags, "\x00"),
	}
}

// ReconcileFolder aligns image_metadata rows with the objects stored under
// root. Failures on single items are recorded in the report and the pass
// continues; only setup failures are returned as errors.
func (r *Reconciler) ReconcileFolder(ctx context.Context, root string, opts ReconcileOptions) (*Report, error) {
	if !validation.ValidateStoragePath(root) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, root)
	}
	start := r.now()
	root = validation.NormalizePath(root)
	report := &Report{Root: root, DryRun: opts.DryRun}
	defer func() { report.Elapsed = r.now().Sub(start) }()

	listing := r.lister.ListAllRecursive(ctx, root, opts.MaxDepth, opts.Deadline)
	report.Partial = listing.Partial
	report.ListErrors = listing.Errors

	resolver, err := BuildCustomerResolver(ctx, r.db)
	if err != nil {
		return report, err
	}

	files := make([]StoredObject, 0, len(listing.Files))
	nameSet := make(map[string]bool)
	for _, f := range listing.Files {
		if IsPlaceholder(f.Path) {
			continue
		}
		files = append(files, f)
		nameSet[f.Name] = true
	}
	report.Scanned = len(files)
	names := make([]string, 0, len(nameSet))
	for n := range nameSet {
		names = append(names, n)
	}
	sort.Strings(names)

	records, err := loadRecords(ctx, r.db, root, names)
	if err != nil {
		return report, fmt.Errorf("load image metadata: %w", err)
	}

	before := make(map[*models.ImageMetadata]recordState, len(records))
	origPath := make(map[*models.ImageMetadata]string, len(records))
	for _, rec := range records {
		before[rec] = stateOf(rec)
		origPath[rec] = rec.FilePath
		if RepairFilePath(rec, r.store.PublicURL) {
			report.Repaired++
		}
	}

	// logical identity of a file: owning folder group plus filename
	keyOf := func(p, name string) string {
		return r.classifier.Group(p).GroupKey(p) + "|" + name
	}

	objectsByKey := make(map[string][]StoredObject)
	for _, f := range files {
		k := keyOf(f.Path, f.Name)
		objectsByKey[k] = append(objectsByKey[k], f)
	}
	rowsByKey := make(map[string][]*models.ImageMetadata)
	for _, rec := range records {
		k := keyOf(rec.FilePath, rec.Filename)
		_, backed := objectsByKey[k]
		covered := listing.Covers(path.Dir(rec.FilePath))
		if !backed && !covered {
			continue
		}
		if !covered {
			// outside the walk; a row whose own object still exists belongs
			// to that object, not to a same-named file listed here
			exists, err := r.store.Exists(ctx, rec.FilePath)
			if err != nil {
				report.fail(rec.FilePath, rec, "exists", err)
				continue
			}
			if exists {
				continue
			}
		}
		rowsByKey[k] = append(rowsByKey[k], rec)
	}

	var ghosts []*models.ImageMetadata
	keys := make([]string, 0, len(objectsByKey))
	for k := range objectsByKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if ctx.Err() != nil {
			report.Partial = true
			delete(rowsByKey, k)
			continue
		}
		objs := objectsByKey[k]
		rows := rowsByKey[k]
		delete(rowsByKey, k)

		if len(objs) == 1 {
			r.reconcileObject(ctx, report, opts, resolver, objs[0], rows, before, origPath)
			continue
		}
		// Several objects share a filename inside one group: only exact path
		// matches are paired, leftovers are ghost candidates.
		byPath := make(map[string]*models.ImageMetadata, len(rows))
		for _, rec := range rows {
			byPath[rec.FilePath] = rec
		}
		for _, obj := range objs {
			var matched []*models.ImageMetadata
			if rec, ok := byPath[obj.Path]; ok {
				matched = append(matched, rec)
				delete(byPath, obj.Path)
			}
			r.reconcileObject(ctx, report, opts, resolver, obj, matched, before, origPath)
		}
		for _, rec := range byPath {
			if listing.Covers(path.Dir(rec.FilePath)) {
				ghosts = append(ghosts, rec)
			}
		}
	}

	// rows left here have no backing object and sit in a covered folder
	for _, rows := range rowsByKey {
		ghosts = append(ghosts, rows...)
	}
	sort.Slice(ghosts, func(i, j int) bool { return ghosts[i].FilePath < ghosts[j].FilePath })
	for _, rec := range ghosts {
		report.Ghosts++
		if opts.DeleteGhosts && !report.Partial {
			if r.deleteRecord(ctx, report, opts, rec, ActionDeleteGhost) {
				report.GhostsDeleted++
			}
			continue
		}
		if stateOf(rec) != before[rec] {
			r.persistUpdate(ctx, report, opts, rec, "repair")
		}
	}

	log.Printf("Reconcile: %s scanned=%d created=%d updated=%d repaired=%d duplicates=%d ghosts=%d partial=%v errors=%d",
		root, report.Scanned, report.Created, report.Updated, report.Repaired,
		report.DuplicatesRemoved, report.Ghosts, report.Partial, len(report.Errors))
	return report, nil
}

// reconcileObject brings the rows describing obj down to one row holding the
// expected fields, creating the row when none exists.
func (r *Reconciler) reconcileObject(ctx context.Context, report *Report, opts ReconcileOptions, resolver *CustomerResolver,
	obj StoredObject, rows []*models.ImageMetadata, before map[*models.ImageMetadata]recordState, origPath map[*models.ImageMetadata]string) {

	keeper, losers := MergeDuplicates(rows)
	for _, l := range losers {
		if r.deleteRecord(ctx, report, opts, l, ActionDeleteDuplicate) {
			report.DuplicatesRemoved++
		}
	}

	if keeper == nil {
		rec := &models.ImageMetadata{}
		r.applyExpected(rec, obj, resolver, "")
		report.Created++
		if opts.DryRun {
			return
		}
		if err := UpsertByPath(ctx, r.db, rec); err != nil {
			report.Created--
			report.fail(obj.Path, nil, "create", err)
			return
		}
		report.Writes++
		return
	}

	r.applyExpected(keeper, obj, resolver, origPath[keeper])
	if stateOf(keeper) == before[keeper] {
		report.Unchanged++
		return
	}
	r.persistUpdate(ctx, report, opts, keeper, "update")
}

// applyExpected sets the fields derived from the object and its folder.
// prevPath is the row's path before this pass; a visit tag derived from it is
// dropped when the object now lives under another date folder.
func (r *Reconciler) applyExpected(rec *models.ImageMetadata, obj StoredObject, resolver *CustomerResolver, prevPath string) {
	grouping := r.classifier.Group(obj.Path)
	url := r.store.PublicURL(obj.Path)

	rec.Filename = obj.Name
	rec.FilePath = obj.Path
	rec.CDNURL = &url
	rec.ImageType = r.classifier.ClassifyImageType(obj.Name)
	rec.SizeBytes = obj.Size
	rec.ContentType = obj.ContentType
	if rec.ContentType == "" {
		rec.ContentType = ContentTypeFor(obj.Name)
	}
	if grouping.OwnerKey != "" {
		rec.FolderKey = grouping.OwnerKey
	} else {
		rec.FolderKey = path.Dir(obj.Path)
	}

	tags := []string(rec.AITags)
	if prevPath != "" {
		if oldDate, ok := ExtractDateFolder(prevPath); ok && oldDate != grouping.DateFolder {
			tags, _ = RemoveExactTags(tags, VisitTag(oldDate))
		}
	}
	if grouping.OwnerKind == OwnerCustomer {
		if id, ok := resolver.Resolve(grouping.OwnerKey); ok {
			tags, _ = EnsureMembershipTag(tags, CustomerTag(id))
		}
		if grouping.DateFolder != "" {
			tags, _ = EnsureMembershipTag(tags, VisitTag(grouping.DateFolder))
		}
	}
	if tags == nil {
		tags = []string{}
	}
	rec.AITags = tags
}

// Describe sets the fields rec should carry for obj, resolving customer tags
// against the current customers table. prevPath is the path rec had before
// the object was moved, or "".
func (r *Reconciler) Describe(ctx context.Context, rec *models.ImageMetadata, obj StoredObject, prevPath string) error {
	resolver, err := BuildCustomerResolver(ctx, r.db)
	if err != nil {
		return err
	}
	r.applyExpected(rec, obj, resolver, prevPath)
	return nil
}

func (r *Reconciler) persistUpdate(ctx context.Context, report *Report, opts ReconcileOptions, rec *models.ImageMetadata, op string) {
	if op == "update" {
		report.Updated++
	}
	if opts.DryRun {
		return
	}
	if err := UpdateByID(ctx, r.db, rec); err != nil {
		if op == "update" {
			report.Updated--
		}
		report.fail(rec.FilePath, rec, op, err)
		return
	}
	report.Writes++
}

// deleteRecord hard-deletes rec and snapshots it into the audit log in the
// same transaction. It reports whether the row was (or would be) removed.
func (r *Reconciler) deleteRecord(ctx context.Context, report *Report, opts ReconcileOptions, rec *models.ImageMetadata, action string) bool {
	if opts.DryRun {
		return true
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&models.ImageMetadata{}, "id = ?", rec.ID).Error; err != nil {
			return err
		}
		return r.audit.LogAction(ctx, tx, opts.Actor, action, "image_metadata", rec.ID.String(), snapshot(rec))
	})
	if err != nil {
		report.fail(rec.FilePath, rec, action, err)
		return false
	}
	report.Writes++
	return true
}
