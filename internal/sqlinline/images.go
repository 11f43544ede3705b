package sqlinline

const QInsertImage = `--sql d6ac69b2-efb3-4dfc-a1f7-bfd52e59a30b
insert into images (
    id, job_id, status, retry_count, original_key, original_filename,
    mime_type, file_size, specific_prompt, created_at, updated_at
)
values ($1::text, $2::text, 'PENDING', 0, $3::text, $4::text, $5::text, $6::bigint, $7::text, $8::timestamptz, $8::timestamptz);
`

const QListImagesByJob = `--sql 4b1865f4-8a4e-4390-9182-4715c532a89c
select
    i.id, i.job_id, i.status, i.retry_count, i.next_retry_at, coalesce(i.error_message, ''),
    i.original_key, i.original_filename, i.mime_type, i.file_size, i.specific_prompt,
    coalesce(i.result_key, ''), coalesce(i.result_mime_type, ''),
    i.created_at, i.updated_at, i.processed_at
from images i
where i.job_id = $1::text
order by i.created_at asc, i.id asc;
`

// QResetStuckImages returns PROCESSING images abandoned by a dead invocation to PENDING.
const QResetStuckImages = `--sql bcf3e60f-130a-43ae-aa72-77f8324ba5b9
update images
set status = 'PENDING',
    updated_at = $2::timestamptz
where status = 'PROCESSING'
  and updated_at < $1::timestamptz;
`

// QClaimImages moves up to $3 eligible images to PROCESSING in one statement.
// Rows locked by a concurrent claim are skipped, never waited on.
const QClaimImages = `--sql 001ab9fa-effc-4ee7-9a3d-18be6f194ae8
with candidates as (
    select i.id
    from images i
    join jobs j on j.id = i.job_id
    where i.status in ('PENDING', 'RETRY_LATER')
      and j.status = 'PROCESSING'
      and i.retry_count < $1::int
      and (i.next_retry_at is null or i.next_retry_at <= $2::timestamptz)
    order by i.created_at asc, i.id asc
    limit $3::int
    for update of i skip locked
),
claimed as (
    update images i
    set status = 'PROCESSING',
        updated_at = $2::timestamptz
    from candidates c
    where i.id = c.id
      and i.status in ('PENDING', 'RETRY_LATER')
    returning
        i.id, i.job_id, i.status, i.retry_count, i.next_retry_at, i.error_message,
        i.original_key, i.original_filename, i.mime_type, i.file_size, i.specific_prompt,
        i.result_key, i.result_mime_type, i.created_at, i.updated_at, i.processed_at
)
select
    c.id, c.job_id, c.status, c.retry_count, c.next_retry_at, coalesce(c.error_message, ''),
    c.original_key, c.original_filename, c.mime_type, c.file_size, c.specific_prompt,
    coalesce(c.result_key, ''), coalesce(c.result_mime_type, ''),
    c.created_at, c.updated_at, c.processed_at,
    j.instruction, j.model
from claimed c
join jobs j on j.id = c.job_id
order by c.created_at asc, c.id asc;
`

const QMarkImageCompleted = `--sql 6bf50eb7-a43b-47b0-ac8f-8d15476ff7ff
update images
set status = 'COMPLETED',
    result_key = $2::text,
    result_mime_type = $3::text,
    error_message = null,
    next_retry_at = null,
    processed_at = $4::timestamptz,
    updated_at = $4::timestamptz
where id = $1::text
  and status = 'PROCESSING';
`

const QMarkImageRetry = `--sql 980bfebd-790d-4019-8209-73eb6187c32e
update images
set status = 'RETRY_LATER',
    retry_count = retry_count + 1,
    error_message = $2::text,
    next_retry_at = $3::timestamptz,
    updated_at = $4::timestamptz
where id = $1::text
  and status = 'PROCESSING';
`

const QMarkImageFailed = `--sql 17c01333-3eda-4af5-903a-22a1edc384f6
update images
set status = 'FAILED',
    retry_count = retry_count + $3::int,
    error_message = $2::text,
    next_retry_at = null,
    processed_at = $4::timestamptz,
    updated_at = $4::timestamptz
where id = $1::text
  and status = 'PROCESSING';
`

const QTallyImages = `--sql 9b030191-7b25-4cdc-a347-97788e4b3ef9
select
    count(*),
    count(*) filter (where status = 'COMPLETED'),
    count(*) filter (where status = 'FAILED'),
    count(*) filter (where status in ('PENDING', 'PROCESSING', 'RETRY_LATER'))
from images
where job_id = $1::text;
`

const QFailPendingImages = `--sql 63882f49-03b3-4c2b-99b4-76e69a8e2003
update images
set status = 'FAILED',
    error_message = $2::text,
    next_retry_at = null,
    updated_at = $3::timestamptz
where job_id = $1::text
  and status in ('PENDING', 'RETRY_LATER');
`

// QResetFailedImages requeues failed images that still have retry budget left.
const QResetFailedImages = `--sql 9774d6b9-b1cf-47d7-88ba-5d0b390f6d28
update images
set status = 'PENDING',
    error_message = null,
    next_retry_at = null,
    processed_at = null,
    updated_at = $3::timestamptz
where job_id = $1::text
  and status = 'FAILED'
  and retry_count < $2::int;
`

const QDeleteImagesByJob = `--sql 337e174b-fc6d-471f-ad22-43453c505ca8
delete from images
where job_id = $1::text;
`
